package threadring

import (
	"log/slog"

	"github.com/cockroachdb/errors"
)

// CleanupFunc is a callback registered with [Thread.PushCleanup].
type CleanupFunc func(arg any)

// CleanupEntry is a pending cleanup on a thread's cleanup stack. It's returned by
// [Thread.PushCleanup] as the token to pass to [Thread.PopCleanup].
type CleanupEntry struct {
	fn    CleanupFunc
	arg   any
	next  *CleanupEntry // pushed before this one
	owner ThreadID
}

type cleanupStack struct {
	top *CleanupEntry

	// whether the drain hook has been registered with the runtime's ExitRegistrar
	hooked bool
	// set while a callback is running, and left set if it panics
	aborted bool
}

// PushCleanup adds fn(arg) to the top of t's cleanup stack. Unless removed with
// [Thread.PopCleanup], it runs when the thread exits, after every cleanup pushed later.
//
// The first push on a thread also arranges, through the runtime's [ExitRegistrar], for the stack
// to be drained if the thread's goroutine ends without calling [Thread.Exit]. If that fails, the
// failure is logged and retried on the next push.
//
// Self only.
func (t *Thread) PushCleanup(fn CleanupFunc, arg any) *CleanupEntry {
	t.assertSelf("PushCleanup")
	if fn == nil {
		panic(errors.AssertionFailedf("%s: nil cleanup pushed", t))
	}

	e := &CleanupEntry{fn: fn, arg: arg, next: t.cleanup.top, owner: t.id}
	t.cleanup.top = e

	if !t.cleanup.hooked {
		if err := t.rt.registrar.RegisterOnExit(t, drainAtExit, t); err != nil {
			t.logger.Warn("failed to register cleanup drain at exit", slog.Any("error", err))
		} else {
			t.cleanup.hooked = true
		}
	}

	return e
}

func drainAtExit(arg any) {
	arg.(*Thread).drainCleanup()
}

// PopCleanup removes e, which must be the newest cleanup on t's stack, without running it.
//
// Self only. PopCleanup panics if e isn't at the top of the stack.
func (t *Thread) PopCleanup(e *CleanupEntry) {
	t.assertSelf("PopCleanup")

	if e == nil || t.cleanup.top != e {
		var owner ThreadID
		if e != nil {
			owner = e.owner
		}
		panic(errors.AssertionFailedf(
			"%s: popped cleanup (pushed by thread %d) isn't at the top of the stack", t, owner,
		))
	}

	t.cleanup.top = e.next
	e.next = nil
}

// WithCleanup runs body with fn(arg) pushed as a cleanup, popping it once body returns.
//
// If body exits the thread instead of returning, fn runs as part of the exit.
func (t *Thread) WithCleanup(fn CleanupFunc, arg any, body func()) {
	e := t.PushCleanup(fn, arg)
	body()
	t.PopCleanup(e)
}

// PendingCleanups returns the number of cleanups on t's stack.
//
// Self only.
func (t *Thread) PendingCleanups() int {
	t.assertSelf("PendingCleanups")

	n := 0
	for e := t.cleanup.top; e != nil; e = e.next {
		n += 1
	}
	return n
}

// drainCleanup pops and runs every cleanup, newest first. Cleanups pushed by a running cleanup
// are drained too.
//
// A panicking cleanup stops the drain for good: any remaining entries never run.
func (t *Thread) drainCleanup() {
	s := &t.cleanup
	if s.aborted {
		return
	}

	for s.top != nil {
		e := s.top
		s.top = e.next
		e.next = nil

		s.aborted = true
		e.fn(e.arg)
		s.aborted = false
	}
}
