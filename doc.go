// obligatory // comment

/*
Package threadring keeps track of the threads of a user-level threading library: which ones are
live, who may change that set, and what each one has to clean up when it exits.

Broadly, the tools belong to a few distinct groups:

- The runtime and its threads: [Runtime], [New], [Thread], [Thread.Create], [Thread.Exit]
- Reentrant locking of the live-thread ring: [ListLock], [Guard], [Thread.LockList]
- Per-thread cleanup stacks: [Thread.PushCleanup], [Thread.PopCleanup], [Thread.WithCleanup]
- Waiting and cooperative cancellation: [Thread.Join], [Thread.Cancel], [Thread.TestCancel]
- Creation stack traces, linked across threads: [StackTrace], [GetStackTrace]

# Threads and the ring

Every live thread is in the runtime's ring: a circular doubly-linked list, in which a thread is
inserted right after the thread that created it, and from which it removes itself as it exits. A
thread on its own is linked to itself. The ring can be inspected with [Runtime.Snapshot], and its
structure verified with [Runtime.Check].

Threads are started by a [Spawner] and stopped by a [Terminator]. By default both are a
[Goroutines], which runs each thread on its own goroutine and stops it with [runtime.Goexit].

Many methods of [Thread] may only be called by the thread itself, i.e. from the goroutine running
it. They're documented as "self only", and panic if called from anywhere else.

# The list lock

Changes to the ring are serialized by the runtime's [ListLock]. The lock is keyed by thread
identity, so a thread already holding it can acquire it again without blocking itself. Each
acquisition is a [Guard], released once.

A thread that exits while holding the list lock has every acquisition released for it before it
hands off to the terminator. Guards dropped that way turn into no-ops.

# Cleanups

Each thread has a stack of cleanup callbacks. They're run newest first when the thread exits, by
[Thread.Exit] or, if the thread's goroutine ends some other way, by a hook that the first push
registers with the runtime's [ExitRegistrar]. A cleanup that's no longer needed can be removed
with [Thread.PopCleanup], as long as it's the newest one.

Cleanups may panic. Panics are not recovered: the remaining cleanups are skipped, and the thread
still leaves the ring.

# Logging

A [Runtime] logs through the [log/slog.Logger] given to [WithLogger]. Each thread logs with the
attributes thread_id and thread_name.

# Invariants

Building with the "invariants" tag (or with the race detector) re-checks the whole ring after
every change to it, panicking on the first inconsistency.
*/
package threadring
