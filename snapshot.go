package threadring

// ThreadInfo describes a thread in the ring at the time of a [Runtime.Snapshot].
type ThreadInfo struct {
	ID        ThreadID   `json:"id"`
	Parent    ThreadID   `json:"parent"`
	Name      string     `json:"name"`
	State     State      `json:"state"`
	CreatedAt StackTrace `json:"-"`
}

// Snapshot returns the threads currently in the ring, in ring order. The list starts at the main
// thread while it's still in the ring.
//
// The returned list is exact at some point during the call: it's collected while holding the list
// lock. The States, though, may have moved on by the time Snapshot returns.
//
// The recommended use of this method is for runtime diagnostics - like finding out which threads
// are still running when waiting for them to finish.
func (rt *Runtime) Snapshot() []ThreadInfo {
	var infos []ThreadInfo
	rt.withLock(func(g *Guard) {
		infos = make([]ThreadInfo, 0, rt.ring.len(g))
		rt.ring.walk(g, rt.main, func(t *Thread) bool {
			infos = append(infos, ThreadInfo{
				ID:        t.id,
				Parent:    t.parent,
				Name:      t.attr.Name,
				State:     t.State(),
				CreatedAt: t.trace,
			})
			return true
		})
	})
	return infos
}

// Len returns the number of threads in the ring.
func (rt *Runtime) Len() int {
	var n int
	rt.withLock(func(g *Guard) {
		n = rt.ring.len(g)
	})
	return n
}

// Check verifies the structure of the ring, returning an error describing the first
// inconsistency found.
func (rt *Runtime) Check() error {
	var err error
	rt.withLock(func(g *Guard) {
		err = rt.ring.check(g)
	})
	return err
}
