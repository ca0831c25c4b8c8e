package threadring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/petermattis/goid"
)

// ThreadID identifies a thread within a [Runtime]. IDs are never reused, and zero is never a
// valid ID.
type ThreadID uint32

const noThread ThreadID = 0

// State is the lifecycle state of a [Thread].
type State int32

const (
	// StateUnborn indicates the thread has been allocated, but its goroutine hasn't started.
	StateUnborn State = iota

	// StateRunning indicates the thread's start routine is executing.
	StateRunning

	// StateExiting indicates the thread has begun exiting: its cleanups are being run, or it is
	// being removed from the ring.
	StateExiting

	// StateReaped indicates the thread's goroutine has finished.
	StateReaped
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateUnborn:
		return "unborn"
	case StateRunning:
		return "running"
	case StateExiting:
		return "exiting"
	case StateReaped:
		return "reaped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Attr holds the attributes a thread is created with. They are passed through to the [Spawner].
type Attr struct {
	// Name is an optional human-readable name, used in logs and snapshots
	Name string
}

// StartRoutine is the function run by a new thread. Returning from it is equivalent to calling
// [Thread.Exit] with the returned value.
type StartRoutine func(self *Thread, arg any) any

// Thread is a single thread managed by a [Runtime].
//
// Methods documented as "self only" must be called from the goroutine currently running the
// thread; they panic otherwise.
type Thread struct {
	rt     *Runtime
	id     ThreadID
	parent ThreadID
	attr   Attr
	trace  StackTrace
	logger *slog.Logger

	state atomic.Int32
	gid   atomic.Int64 // goroutine running the thread, 0 if none

	// Ring linkage. Only accessed while holding rt.lock.
	next, prev ThreadID
	linked     bool
	retired    bool // set by the exit unlink, whether or not the thread was ever linked

	// Only accessed by the thread itself.
	cleanup   cleanupStack
	exitHooks []exitHook

	retireOnce sync.Once
	done       chan struct{}
	result     any

	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
}

type exitHook struct {
	fn  func(any)
	arg any
}

// ID returns the thread's identity.
func (t *Thread) ID() ThreadID {
	return t.id
}

// Parent returns the ID of the thread that created t, or zero for the main thread.
func (t *Thread) Parent() ThreadID {
	return t.parent
}

// Name returns the name given in the thread's [Attr].
func (t *Thread) Name() string {
	return t.attr.Name
}

// State returns the thread's current lifecycle state.
func (t *Thread) State() State {
	return State(t.state.Load())
}

// CreatedAt returns the stack trace of the call that created the thread, linked to the creation
// trace of its parent.
func (t *Thread) CreatedAt() StackTrace {
	return t.trace
}

// Runtime returns the runtime the thread belongs to.
func (t *Thread) Runtime() *Runtime {
	return t.rt
}

func (t *Thread) String() string {
	if t.attr.Name == "" {
		return fmt.Sprintf("thread %d", t.id)
	}
	return fmt.Sprintf("thread %d (%s)", t.id, t.attr.Name)
}

func (rt *Runtime) newThread(parent ThreadID, attr Attr, trace StackTrace) *Thread {
	id := rt.allocID()

	logger := rt.opts.logger.With(slog.Uint64("thread_id", uint64(id)))
	if attr.Name != "" {
		logger = logger.With(slog.String("thread_name", attr.Name))
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Thread{
		rt:     rt,
		id:     id,
		parent: parent,
		attr:   attr,
		trace:  trace,
		logger: logger,
		next:   id,
		prev:   id,
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	t.state.Store(int32(StateUnborn))
	return t
}

// bind makes t the thread of the calling goroutine.
func (t *Thread) bind() {
	gid := goid.Get()
	t.gid.Store(gid)
	t.rt.self.Store(gid, t)
}

func (t *Thread) unbind() {
	if gid := t.gid.Swap(0); gid != 0 {
		t.rt.self.CompareAndDelete(gid, t)
	}
}

// assertSelf panics if the calling goroutine isn't running t.
func (t *Thread) assertSelf(op string) {
	if gid := goid.Get(); t.gid.Load() != gid {
		panic(errors.AssertionFailedf(
			"%s: %s called from goroutine %d, which isn't running it", t, op, gid,
		))
	}
}

// run is the body executed on the thread's goroutine.
func (t *Thread) run(fn StartRoutine, arg any) {
	t.bind()
	defer t.finish()

	t.state.Store(int32(StateRunning))
	t.logger.Debug("thread started")

	result := fn(t, arg)
	t.Exit(result)
}

// finish runs when the thread's goroutine ends, however it ends: after Exit hands off to the
// terminator, on a panic, or on runtime.Goexit without Exit.
func (t *Thread) finish() {
	defer func() {
		// The start routine may have panicked or called runtime.Goexit, before or during Exit.
		// Either way the thread is gone, so it has to leave the ring.
		if t.state.CompareAndSwap(int32(StateRunning), int32(StateExiting)) {
			t.logger.Warn("thread ended without exiting")
		}
		t.retire(nil)
		t.unbind()
		t.state.Store(int32(StateReaped))
	}()

	// Hooks may register more hooks, so don't range over a copy.
	for len(t.exitHooks) != 0 {
		h := t.exitHooks[0]
		t.exitHooks = t.exitHooks[1:]
		h.fn(h.arg)
	}
}
