package threadring

import (
	"io"
	"log/slog"
)

// MaxTraceDepth is the default number of ancestor creation traces kept by each thread.
const MaxTraceDepth = 8

// Option configures a [Runtime]. Options are passed to [New].
type Option func(*options)

type options struct {
	spawner       Spawner
	terminator    Terminator
	registrar     ExitRegistrar
	logger        *slog.Logger
	maxTraceDepth int
}

func defaultOptions() options {
	pool := &Goroutines{}
	return options{
		spawner:       pool,
		terminator:    pool,
		registrar:     ExitHooks{},
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxTraceDepth: MaxTraceDepth,
	}
}

// WithSpawner sets the Spawner used by [Thread.Create].
func WithSpawner(s Spawner) Option {
	return func(o *options) {
		o.spawner = s
	}
}

// WithTerminator sets the Terminator called at the end of [Thread.Exit].
func WithTerminator(t Terminator) Option {
	return func(o *options) {
		o.terminator = t
	}
}

// WithGoroutines uses pool as both the Spawner and the Terminator.
func WithGoroutines(pool *Goroutines) Option {
	return func(o *options) {
		o.spawner = pool
		o.terminator = pool
	}
}

// WithExitRegistrar sets the facility used to drain a thread's cleanup stack when its goroutine
// ends without calling [Thread.Exit]. The default is [ExitHooks].
func WithExitRegistrar(r ExitRegistrar) Option {
	return func(o *options) {
		o.registrar = r
	}
}

// WithLogger sets the logger. Each thread logs through a child of it, with the attributes
// thread_id and (if it has one) thread_name. By default, nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMaxTraceDepth sets how many ancestor creation traces each thread keeps. Older ones are
// counted but dropped.
func WithMaxTraceDepth(depth int) Option {
	return func(o *options) {
		if depth < 0 {
			depth = 0
		}
		o.maxTraceDepth = depth
	}
}
