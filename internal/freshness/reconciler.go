// Package freshness runs a refresh function from a timer and from events
// through one loop, so polling and realtime notifications cannot drift apart.
package freshness

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresh brings some piece of client state up to date.
type Refresh func(ctx context.Context, reason string) error

// Reasons reported to Refresh.
const (
	ReasonInitial = "initial"
	ReasonTick    = "tick"
)

// Reconciler serializes refreshes. Triggers that arrive while a refresh is
// running are coalesced into a single follow-up run.
type Reconciler struct {
	name      string
	refresh   Refresh
	interval  time.Duration
	immediate bool
	logger    *slog.Logger

	mu      sync.Mutex
	pending string
	wake    chan struct{}
	running bool
}

// Option is a function that configures a Reconciler.
type Option func(*Reconciler)

// WithInterval refreshes on a fixed period in addition to triggers.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.interval = d
	}
}

// WithoutInitialRun skips the refresh Run normally performs on start.
func WithoutInitialRun() Option {
	return func(r *Reconciler) {
		r.immediate = false
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// New creates a reconciler named for log output.
func New(name string, refresh Refresh, opts ...Option) *Reconciler {
	r := &Reconciler{
		name:      name,
		refresh:   refresh,
		immediate: true,
		logger:    slog.Default().With("component", "freshness"),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("reconciler", name)
	return r
}

// Trigger asks for a refresh without waiting for it. Triggers before Run
// starts are kept and served once it does.
func (r *Reconciler) Trigger(reason string) {
	r.mu.Lock()
	if r.pending == "" {
		r.pending = reason
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run refreshes immediately, then on every tick and trigger, until ctx is
// canceled. Refresh errors are logged and do not stop the loop.
func (r *Reconciler) Run(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("Reconciler already running")
		return
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if r.immediate {
		r.do(ctx, ReasonInitial)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.do(ctx, ReasonTick)
		case <-r.wake:
			r.mu.Lock()
			reason := r.pending
			r.pending = ""
			r.mu.Unlock()
			if reason != "" {
				r.do(ctx, reason)
			}
		}
	}
}

func (r *Reconciler) do(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	if err := r.refresh(ctx, reason); err != nil && ctx.Err() == nil {
		r.logger.Warn("Refresh failed", "reason", reason, "error", err)
	}
}
