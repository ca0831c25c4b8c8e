package threadring

import (
	"log/slog"

	"github.com/cockroachdb/errors"
)

var (
	// ErrResourceExhausted is returned (wrapped) by [Thread.Create] when the Spawner can't start
	// another thread.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrInvalidArgument is returned (wrapped) by [Thread.Create] when given a nil start routine,
	// and may be returned by Spawner implementations for attributes they reject.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDeadlock is returned by [Thread.Join] when a thread tries to join itself.
	ErrDeadlock = errors.New("deadlock")
)

// Create starts a new thread running fn(child, arg), and links it into the ring next to t.
//
// The new thread may start, and even finish, before Create returns. If the Spawner fails, the
// returned error wraps its error and the ring is left untouched.
//
// Self only.
func (t *Thread) Create(fn StartRoutine, arg any, attr Attr) (*Thread, error) {
	t.assertSelf("Create")

	if fn == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil start routine")
	}

	rt := t.rt
	trace := GetStackTrace(&t.trace, 1).Truncate(rt.opts.maxTraceDepth)
	child := rt.newThread(t.id, attr, trace)

	if err := rt.spawner.Spawn(attr, func() { child.run(fn, arg) }); err != nil {
		child.cancel()
		if errors.Is(err, ErrResourceExhausted) {
			child.logger.Warn("failed to spawn thread", slog.Any("error", err))
		} else {
			child.logger.Error("failed to spawn thread", slog.Any("error", err))
		}
		return nil, errors.Wrapf(err, "could not spawn %s", child)
	}

	linked := func() bool {
		g := rt.lock.Acquire(t.id)
		defer g.Release()
		return rt.ring.link(g, child, t)
	}()

	if linked {
		child.logger.Debug("thread linked", slog.Uint64("parent_id", uint64(t.id)))
	} else {
		child.logger.Debug("thread exited before it could be linked")
	}
	return child, nil
}

// Exit ends the calling thread with the given result. Exit never returns.
//
// Pending cleanups run first, newest first. Then the thread leaves the ring, gives up any hold it
// still has on the list lock, and publishes result to joiners before handing off to the
// [Terminator]. A panicking cleanup propagates out of Exit; the thread still leaves the ring, with
// a nil result, as its goroutine ends.
//
// Self only. Exit panics if the thread is already exiting.
func (t *Thread) Exit(result any) {
	t.assertSelf("Exit")

	if !t.state.CompareAndSwap(int32(StateRunning), int32(StateExiting)) {
		panic(errors.AssertionFailedf("%s: Exit called while %s", t, t.State()))
	}
	t.logger.Debug("thread exiting")

	t.drainCleanup()
	t.retire(result)

	t.rt.terminator.Terminate(result)
	panic(errors.AssertionFailedf("%s: terminator returned from Terminate", t))
}

// retire removes t from the ring and releases its joiners. Only the first call has any effect.
func (t *Thread) retire(result any) {
	t.retireOnce.Do(func() {
		lock := &t.rt.lock

		g := lock.Acquire(t.id)
		t.rt.ring.unlink(g, t)
		g.Release()

		if n := lock.releaseAll(t.id); n > 0 {
			t.logger.Warn("thread exited while holding the list lock", slog.Int("acquisitions", n))
		}

		t.result = result
		close(t.done)
		t.cancel()
		t.logger.Debug("thread unlinked")
	})
}
