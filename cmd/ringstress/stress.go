package main

import (
	"context"
	"log/slog"
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sharnoff/threadring"
)

// Report summarizes a stress run
type Report struct {
	Created       int64
	SpawnFailures int64
	Canceled      int64

	CleanupsPushed int64
	CleanupsPopped int64
	CleanupsRun    int64

	MaxRing int
	Elapsed time.Duration
}

type stress struct {
	cfg    *Config
	rt     *threadring.Runtime
	logger *slog.Logger

	budget atomic.Int64

	created       atomic.Int64
	spawnFailures atomic.Int64
	canceled      atomic.Int64
	maxRing       atomic.Int64

	cleanupSeq atomic.Int64
	fired      []atomic.Int32
	popped     []atomic.Bool
}

// Run creates cfg.Threads threads as a random tree, each pushing and popping cleanups, creating
// and sometimes canceling children, and joining them before exiting. Once every thread is gone it
// verifies the ring and that every cleanup that wasn't popped ran exactly once.
//
// Run must be called on a goroutine that isn't already running a thread; that goroutine becomes
// the runtime's main thread.
func Run(cfg *Config, logger *slog.Logger) (Report, error) {
	start := time.Now()

	pool := &threadring.Goroutines{MaxLive: cfg.MaxLive}
	s := &stress{
		cfg:    cfg,
		rt:     threadring.New(threadring.WithGoroutines(pool), threadring.WithLogger(logger)),
		logger: logger,
		fired:  make([]atomic.Int32, cfg.Threads*cfg.Cleanups),
		popped: make([]atomic.Bool, cfg.Threads*cfg.Cleanups),
	}
	s.budget.Store(int64(cfg.Threads))

	root := s.rt.Main()
	rng := rand.New(rand.NewSource(cfg.Seed))
	for s.budget.Load() > 0 {
		children := s.spawnChildren(root, rng)
		if len(children) == 0 {
			// every slot is busy; the goroutines that were just joined are still winding down
			runtime.Gosched()
		}
		s.sampleRing()
		s.joinAll(children)
	}
	pool.Wait()

	report := Report{
		Created:       s.created.Load(),
		SpawnFailures: s.spawnFailures.Load(),
		Canceled:      s.canceled.Load(),
		MaxRing:       int(s.maxRing.Load()),
		Elapsed:       time.Since(start),
	}
	return report, s.verify(&report)
}

// body is the start routine of every thread but main
func (s *stress) body(self *threadring.Thread, _ any) any {
	rng := rand.New(rand.NewSource(s.cfg.Seed + int64(self.ID())))

	for i := 0; i < s.cfg.Cleanups; i += 1 {
		id := s.cleanupSeq.Add(1) - 1
		e := self.PushCleanup(s.fire, id)
		if rng.Intn(3) == 0 {
			self.PopCleanup(e)
			s.popped[id].Store(true)
		}
	}

	self.TestCancel()

	children := s.spawnChildren(self, rng)
	s.sampleRing()
	s.joinAll(children)
	return len(children)
}

func (s *stress) fire(arg any) {
	s.fired[arg.(int64)].Add(1)
}

// spawnChildren creates up to cfg.Fanout children of self while the budget lasts. Creation
// failures return their share of the budget.
func (s *stress) spawnChildren(self *threadring.Thread, rng *rand.Rand) []*threadring.Thread {
	var children []*threadring.Thread

	n := 1 + rng.Intn(s.cfg.Fanout)
	for i := 0; i < n; i += 1 {
		if s.budget.Add(-1) < 0 {
			s.budget.Add(1)
			break
		}

		child, err := self.Create(s.body, nil, threadring.Attr{})
		if err != nil {
			s.budget.Add(1)
			if !errors.Is(err, threadring.ErrResourceExhausted) {
				s.logger.Error("unexpected error creating thread", slog.Any("error", err))
			}
			s.spawnFailures.Add(1)
			continue
		}
		s.created.Add(1)

		if rng.Float64() < s.cfg.CancelRatio {
			child.Cancel()
		}
		children = append(children, child)
	}

	return children
}

func (s *stress) joinAll(children []*threadring.Thread) {
	for _, c := range children {
		result, err := c.Join(context.Background())
		if err != nil {
			panic(errors.NewAssertionErrorWithWrappedErrf(err, "join failed"))
		}
		if result == threadring.Canceled {
			s.canceled.Add(1)
		}
	}
}

func (s *stress) sampleRing() {
	n := int64(s.rt.Len())
	for {
		cur := s.maxRing.Load()
		if n <= cur || s.maxRing.CompareAndSwap(cur, n) {
			return
		}
	}
}

// verify checks the end state of the run, filling in the cleanup counts of report
func (s *stress) verify(report *Report) error {
	var errs []error

	if err := s.rt.Check(); err != nil {
		errs = append(errs, errors.Wrap(err, "ring check failed"))
	}
	if n := s.rt.Len(); n != 1 {
		errs = append(errs, errors.Newf("%d threads left in the ring, expected only main", n))
	}
	if report.Created != int64(s.cfg.Threads) {
		errs = append(errs, errors.Newf("created %d threads, expected %d", report.Created, s.cfg.Threads))
	}

	pushed := s.cleanupSeq.Load()
	report.CleanupsPushed = pushed
	for id := int64(0); id < pushed; id += 1 {
		fired := s.fired[id].Load()
		report.CleanupsRun += int64(fired)

		if s.popped[id].Load() {
			report.CleanupsPopped += 1
			if fired != 0 {
				errs = append(errs, errors.Newf("popped cleanup %d ran %d times", id, fired))
			}
		} else if fired != 1 {
			errs = append(errs, errors.Newf("cleanup %d ran %d times, expected once", id, fired))
		}
	}

	var combined error
	for _, err := range errs {
		combined = errors.CombineErrors(combined, err)
	}
	if combined != nil {
		return errors.Wrapf(combined, "%d invariant violations", len(errs))
	}
	return nil
}
