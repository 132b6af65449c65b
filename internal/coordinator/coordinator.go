// Package coordinator serializes pipeline rebuilds. At most one rebuild runs
// at a time; change notifications that arrive while one is running set a
// dirty flag and return immediately, and the running rebuild loops until the
// flag stays clear.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dusk-indust/logwire/internal/metrics"
	"github.com/dusk-indust/logwire/internal/rebuild"
	"github.com/dusk-indust/logwire/internal/status"
)

// ErrAlreadyRebuilding is returned by TryRebuild when another caller holds
// the rebuild permit. The holder will observe the dirty flag.
var ErrAlreadyRebuilding = errors.New("coordinator: rebuild already in progress")

// ErrStarted is returned by a second call to Start.
var ErrStarted = errors.New("coordinator: already started")

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReporter sets the status reporter panics are reported to.
func WithReporter(r *status.Reporter) Option {
	return func(c *Coordinator) { c.status = r }
}

// WithMetrics sets the metrics sink. nil records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator owns the reconciliation state: one permit, a dirty flag and
// an in-flight flag.
type Coordinator struct {
	rb      rebuild.Rebuilder
	status  *status.Reporter
	metrics *metrics.Metrics
	logger  *slog.Logger

	permit   *semaphore.Weighted
	dirty    atomic.Bool
	inFlight atomic.Bool
	ready    atomic.Bool
	started  atomic.Bool
	rebuilds atomic.Int64
}

// New creates a Coordinator driving rb.
func New(rb rebuild.Rebuilder, opts ...Option) *Coordinator {
	c := &Coordinator{
		rb:     rb,
		logger: slog.Default(),
		permit: semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.status == nil {
		c.status = status.NewReporter(status.WithLogger(c.logger))
	}
	return c
}

// MarkChanged records that configuration changed and rebuilds unless a
// rebuild is already running, in which case the running one picks the change
// up. Before Start completes the change is only recorded. Rebuild failures
// are reported on the status channel, never to the caller.
func (c *Coordinator) MarkChanged(ctx context.Context) {
	c.dirty.Store(true)
	if !c.ready.Load() {
		c.logger.Debug("change recorded during startup")
		return
	}
	if err := c.TryRebuild(ctx); errors.Is(err, ErrAlreadyRebuilding) {
		c.metrics.Coalesced()
	}
}

// RequestReload forces a rebuild even when nothing is marked changed. Before
// Start completes the request is folded into the initial load.
func (c *Coordinator) RequestReload(ctx context.Context) {
	c.dirty.Store(true)
	if !c.ready.Load() {
		c.logger.Debug("reload requested during startup")
		return
	}
	if err := c.TryRebuild(ctx); errors.Is(err, ErrAlreadyRebuilding) {
		c.metrics.Coalesced()
	}
}

// TryRebuild acquires the permit without waiting and rebuilds while the
// dirty flag is set. It returns ErrAlreadyRebuilding when the permit is held.
// The rebuild runs to completion even if ctx is cancelled.
func (c *Coordinator) TryRebuild(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	for {
		if !c.permit.TryAcquire(1) {
			return ErrAlreadyRebuilding
		}
		c.drain(ctx)

		// A change can land after the last dirty check but before the
		// release; whoever set it may have lost the acquire to us.
		if !c.dirty.Load() {
			return nil
		}
	}
}

// drain rebuilds until the dirty flag stays clear, then releases the permit.
func (c *Coordinator) drain(ctx context.Context) {
	c.inFlight.Store(true)
	c.metrics.SetInFlight(true)
	defer func() {
		c.inFlight.Store(false)
		c.metrics.SetInFlight(false)
		c.permit.Release(1)
	}()

	for c.dirty.CompareAndSwap(true, false) {
		c.once(ctx)
	}
}

// once runs a single rebuild. A panic is reported as a failed rebuild and
// does not escape.
func (c *Coordinator) once(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.status.Emit(status.Event{
				Phase:    status.PhaseRebuildFailed,
				Severity: status.SeverityError,
				Message:  "rebuild aborted",
				Err:      fmt.Errorf("coordinator: rebuild panicked: %v", r),
			})
			c.metrics.ObserveRebuild(metrics.OutcomeFailed, time.Since(start).Seconds())
		}
	}()

	n := c.rebuilds.Add(1)
	if err := c.rb.Rebuild(ctx); err != nil {
		c.logger.Debug("rebuild failed", "n", n, "err", err)
	}
}

// Start performs the initial load and then StartupReconcile. Changes marked
// before Start are folded into the initial load; changes that arrive while
// it runs are applied by exactly one corrective rebuild.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	ctx = context.WithoutCancel(ctx)
	c.status.Emit(status.Event{Phase: status.PhaseStartup, Message: "loading the initial logging configuration"})

	if err := c.permit.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("coordinator: start: %w", err)
	}
	c.dirty.Store(true)
	c.drain(ctx)
	c.ready.Store(true)

	c.StartupReconcile(ctx)
	return nil
}

// StartupReconcile rebuilds once if a change was recorded while startup was
// in progress.
func (c *Coordinator) StartupReconcile(ctx context.Context) {
	if !c.dirty.Load() {
		return
	}
	c.logger.Debug("applying changes made during startup")
	_ = c.TryRebuild(ctx)
}

// Ready reports whether Start has completed its initial load.
func (c *Coordinator) Ready() bool { return c.ready.Load() }

// InFlight reports whether a rebuild currently holds the permit.
func (c *Coordinator) InFlight() bool { return c.inFlight.Load() }

// Dirty reports whether a change is waiting to be applied.
func (c *Coordinator) Dirty() bool { return c.dirty.Load() }

// Rebuilds returns how many rebuilds have been started.
func (c *Coordinator) Rebuilds() int64 { return c.rebuilds.Load() }
