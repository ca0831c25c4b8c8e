package threadring

import (
	"github.com/cockroachdb/errors"

	"github.com/sharnoff/threadring/internal/buildutil"
)

// registry is the set of live threads: an arena of records keyed by ID, threaded into a single
// circular doubly-linked ring through each record's next and prev IDs.
//
// Links are IDs rather than pointers, resolved through the arena, so a stale link can only ever
// fail a lookup; it can't reach a record that has left the ring.
//
// Every method requires a live guard on the runtime's list lock.
type registry struct {
	lock   *ListLock
	arena  map[ThreadID]*Thread
	anchor ThreadID // some linked record, or zero if the ring is empty
}

func newRegistry(lock *ListLock) registry {
	return registry{
		lock:  lock,
		arena: make(map[ThreadID]*Thread),
	}
}

func (r *registry) assertHeld(g *Guard) {
	if g == nil || g.lock != r.lock || !g.Held() {
		panic(errors.AssertionFailedf("thread ring accessed without holding the list lock"))
	}
}

func (r *registry) lookup(id ThreadID) *Thread {
	t := r.arena[id]
	if t == nil {
		panic(errors.AssertionFailedf("thread ring links to %d, which isn't in the ring", id))
	}
	return t
}

// link inserts t into the ring directly after the record after.
//
// If after isn't in the ring (its own creator hasn't linked it yet), t is inserted after the
// ring's anchor instead, and if the ring is empty t becomes a ring of one.
//
// link returns false without changing anything if t has already been through its exit unlink:
// a thread may run to completion before its creator gets around to linking it.
func (r *registry) link(g *Guard, t, after *Thread) bool {
	r.assertHeld(g)

	if t.retired {
		return false
	}
	if t.linked {
		panic(errors.AssertionFailedf("%s linked into the thread ring twice", t))
	}

	if after == nil || !after.linked {
		if r.anchor == noThread {
			t.next, t.prev = t.id, t.id
			r.insert(g, t)
			return true
		}
		after = r.lookup(r.anchor)
	}

	next := r.lookup(after.next)
	t.next = next.id
	t.prev = after.id
	next.prev = t.id
	after.next = t.id

	r.insert(g, t)
	return true
}

func (r *registry) insert(g *Guard, t *Thread) {
	t.linked = true
	r.arena[t.id] = t
	if r.anchor == noThread {
		r.anchor = t.id
	}

	if buildutil.Invariants {
		r.mustCheck(g)
	}
}

// unlink removes t from the ring, joining its neighbors to each other and leaving t as a
// self-loop. Afterwards t is retired and will never be linked again.
func (r *registry) unlink(g *Guard, t *Thread) {
	r.assertHeld(g)

	t.retired = true
	if !t.linked {
		return
	}

	if t.next == t.id {
		r.anchor = noThread
	} else {
		next := r.lookup(t.next)
		prev := r.lookup(t.prev)
		next.prev = prev.id
		prev.next = next.id
		if r.anchor == t.id {
			r.anchor = next.id
		}
	}

	t.next, t.prev = t.id, t.id
	t.linked = false
	delete(r.arena, t.id)

	if buildutil.Invariants {
		r.mustCheck(g)
	}
}

// len returns the number of threads in the ring.
func (r *registry) len(g *Guard) int {
	r.assertHeld(g)
	return len(r.arena)
}

// walk calls fn on each record in ring order, starting with start if it's linked or with the
// anchor otherwise, until fn returns false.
func (r *registry) walk(g *Guard, start *Thread, fn func(*Thread) bool) {
	r.assertHeld(g)

	if start == nil || !start.linked {
		if r.anchor == noThread {
			return
		}
		start = r.lookup(r.anchor)
	}

	t := start
	for {
		if !fn(t) {
			return
		}
		t = r.lookup(t.next)
		if t == start {
			return
		}
	}
}

// check verifies the ring: every record's neighbors point back at it, following next from the
// anchor visits each record in the arena exactly once, and unlinked records are self-loops.
func (r *registry) check(g *Guard) error {
	r.assertHeld(g)

	if r.anchor == noThread {
		if len(r.arena) != 0 {
			return errors.Newf("thread ring has no anchor but %d records", len(r.arena))
		}
		return nil
	}

	seen := make(map[ThreadID]struct{}, len(r.arena))
	id := r.anchor
	for {
		t, ok := r.arena[id]
		if !ok {
			return errors.Newf("thread ring reaches %d, which isn't in the arena", id)
		}
		if t.id != id {
			return errors.Newf("arena entry %d holds %s", id, t)
		}
		if !t.linked || t.retired {
			return errors.Newf("%s is in the ring but marked linked=%v retired=%v", t, t.linked, t.retired)
		}
		if _, dup := seen[id]; dup {
			return errors.Newf("thread ring visits %s twice before returning to the anchor", t)
		}
		seen[id] = struct{}{}

		next, ok := r.arena[t.next]
		if !ok {
			return errors.Newf("%s links next to %d, which isn't in the arena", t, t.next)
		}
		if next.prev != t.id {
			return errors.Newf("%s links next to %d, whose prev is %d", t, next.id, next.prev)
		}
		prev, ok := r.arena[t.prev]
		if !ok {
			return errors.Newf("%s links prev to %d, which isn't in the arena", t, t.prev)
		}
		if prev.next != t.id {
			return errors.Newf("%s links prev to %d, whose next is %d", t, prev.id, prev.next)
		}

		id = t.next
		if id == r.anchor {
			break
		}
	}

	if len(seen) != len(r.arena) {
		return errors.Newf("thread ring holds %d records, but the arena has %d", len(seen), len(r.arena))
	}
	return nil
}

func (r *registry) mustCheck(g *Guard) {
	if err := r.check(g); err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "thread ring corrupted"))
	}
}
