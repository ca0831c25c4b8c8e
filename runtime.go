package threadring

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/petermattis/goid"
)

// Runtime coordinates the lifecycle of a set of threads: it owns the ring of live threads, the
// list lock that guards it, and the collaborators used to start and stop threads.
//
// A Runtime is created with a single thread, returned by [Runtime.Main], which is bound to the
// goroutine that called [New].
type Runtime struct {
	lock ListLock
	ring registry

	spawner    Spawner
	terminator Terminator
	registrar  ExitRegistrar

	opts options

	nextID atomic.Uint32
	self   sync.Map // goroutine ID -> *Thread
	main   *Thread
}

// New creates a new Runtime, with the calling goroutine as its main thread.
func New(opts ...Option) *Runtime {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{
		spawner:    o.spawner,
		terminator: o.terminator,
		registrar:  o.registrar,
		opts:       o,
	}
	rt.ring = newRegistry(&rt.lock)

	main := rt.newThread(noThread, Attr{Name: "main"}, GetStackTrace(nil, 1))
	main.bind()
	main.state.Store(int32(StateRunning))

	g := rt.lock.Acquire(main.id)
	rt.ring.link(g, main, nil)
	g.Release()

	rt.main = main
	main.logger.Debug("runtime started")
	return rt
}

// Main returns the thread bound to the goroutine that called [New].
func (rt *Runtime) Main() *Thread {
	return rt.main
}

// Self returns the thread running on the calling goroutine, or nil if the goroutine isn't
// running any of rt's threads.
func (rt *Runtime) Self() *Thread {
	v, ok := rt.self.Load(goid.Get())
	if !ok {
		return nil
	}
	return v.(*Thread)
}

func (rt *Runtime) allocID() ThreadID {
	id := ThreadID(rt.nextID.Add(1))
	if id == noThread {
		panic(errors.AssertionFailedf("thread IDs exhausted"))
	}
	return id
}

// LockList acquires the runtime's list lock as t, blocking until it's available. While it's held,
// no thread can be linked into or unlinked from the ring. The lock is reentrant, so t may call
// [Runtime.Snapshot] or create threads while holding it.
//
// If t exits while holding the lock, Exit releases every acquisition first, and the outstanding
// guards become no-ops.
//
// Self only.
func (t *Thread) LockList() *Guard {
	t.assertSelf("LockList")
	return t.rt.lock.Acquire(t.id)
}

// withLock calls fn while holding the list lock. Goroutines that aren't running a thread lock
// under a fresh ID, which can't collide with any thread's.
func (rt *Runtime) withLock(fn func(g *Guard)) {
	var id ThreadID
	if self := rt.Self(); self != nil {
		id = self.id
	} else {
		id = rt.allocID()
	}

	g := rt.lock.Acquire(id)
	defer g.Release()
	fn(g)
}
