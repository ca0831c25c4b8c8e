package threadring

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ListLock is the lock guarding a [Runtime]'s thread ring.
//
// It is keyed on thread identity rather than on goroutines: a thread that already holds the lock
// may acquire it again without blocking, and the lock only becomes free once every acquisition has
// been released. Other threads block until it's free. There's no fairness among waiters and no
// timeout.
//
// Acquisitions are represented by a [Guard], which is meant to be released with defer:
//
//	defer lock.Acquire(self.ID()).Release()
type ListLock struct {
	owner futex // 0 when free, else the holder's ThreadID

	// number of nested acquisitions beyond the first. Only the holder reads or writes it; hand-off
	// between holders goes through the atomic operations on owner.
	count int32

	waiters atomic.Int32

	// bumped by releaseAll, so guards that were dropped by it become no-ops
	gen atomic.Uint64
}

// Guard is a single acquisition of a [ListLock]. It must be released exactly once, by the thread
// that acquired it.
type Guard struct {
	lock     *ListLock
	id       ThreadID
	gen      uint64
	released bool
}

// Acquire blocks until the thread id holds the lock. If id already holds it, Acquire returns
// immediately with a nested acquisition.
//
// Acquire panics if id is zero.
func (l *ListLock) Acquire(id ThreadID) *Guard {
	if id == noThread {
		panic(errors.AssertionFailedf("list lock acquired with the zero thread ID"))
	}

	if l.owner.load() == uint32(id) {
		l.count += 1
		return l.newGuard(id)
	}

	for {
		prev := l.owner.cas(0, uint32(id))
		if prev == 0 {
			return l.newGuard(id)
		}

		l.waiters.Add(1)
		_ = l.owner.wait(context.Background(), prev)
		l.waiters.Add(-1)
	}
}

// TryAcquire is like Acquire, but returns false instead of blocking if another thread holds the
// lock.
func (l *ListLock) TryAcquire(id ThreadID) (*Guard, bool) {
	if id == noThread {
		panic(errors.AssertionFailedf("list lock acquired with the zero thread ID"))
	}

	if l.owner.load() == uint32(id) {
		l.count += 1
		return l.newGuard(id), true
	}

	if l.owner.cas(0, uint32(id)) != 0 {
		return nil, false
	}
	return l.newGuard(id), true
}

func (l *ListLock) newGuard(id ThreadID) *Guard {
	return &Guard{lock: l, id: id, gen: l.gen.Load()}
}

// Owner returns the thread currently holding the lock, or zero if it's free.
func (l *ListLock) Owner() ThreadID {
	return ThreadID(l.owner.load())
}

// HeldBy returns whether the thread id currently holds the lock.
func (l *ListLock) HeldBy(id ThreadID) bool {
	return id != noThread && l.owner.load() == uint32(id)
}

// Release gives up this acquisition. The lock is freed, and a single waiter woken, only when the
// outermost acquisition is released.
//
// Release panics if the guard was already released, or if its thread doesn't hold the lock.
func (g *Guard) Release() {
	if g.released {
		panic(errors.AssertionFailedf("list lock guard of thread %d released twice", g.id))
	}
	g.released = true

	l := g.lock
	if g.gen != l.gen.Load() {
		// dropped by releaseAll when the thread exited. Generations only move while the lock is
		// held, so no other thread can have a live guard from an older one.
		return
	}
	if !l.HeldBy(g.id) {
		panic(errors.AssertionFailedf(
			"list lock released by thread %d, but held by %d", g.id, l.Owner(),
		))
	}

	if l.count > 0 {
		l.count -= 1
		return
	}

	l.owner.store(0)
	if l.waiters.Load() > 0 {
		l.owner.wake(1)
	}
}

// Held returns whether the guard is a live acquisition of its lock.
func (g *Guard) Held() bool {
	return g != nil && !g.released && g.gen == g.lock.gen.Load() && g.lock.HeldBy(g.id)
}

// releaseAll drops every acquisition held by id, returning how many there were. Guards for them
// turn into no-ops.
func (l *ListLock) releaseAll(id ThreadID) int {
	if !l.HeldBy(id) {
		return 0
	}

	n := int(l.count) + 1
	l.count = 0
	l.gen.Add(1)
	l.owner.store(0)
	if l.waiters.Load() > 0 {
		l.owner.wake(1)
	}
	return n
}
