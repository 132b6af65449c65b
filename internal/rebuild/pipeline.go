// Package rebuild turns the registry's configuration sources into a live
// pipeline: validate, merge, parse, install, reattach dynamic components and
// record the result as the new known-good state. A failed cycle falls back
// to the last known-good configuration.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/logwire/internal/engine"
	"github.com/dusk-indust/logwire/internal/fallback"
	"github.com/dusk-indust/logwire/internal/metrics"
	"github.com/dusk-indust/logwire/internal/source"
	"github.com/dusk-indust/logwire/internal/status"
	"github.com/dusk-indust/logwire/internal/tracker"
	"github.com/dusk-indust/logwire/internal/validate"
)

// Hooks receives the rebuild lifecycle. tracker.Set implements it.
type Hooks interface {
	OnRebuildStart(live *engine.Model)
	OnRebuildComplete(m *engine.Model) []error
}

// Rebuilder performs one rebuild cycle.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Compile-time interface checks.
var (
	_ Rebuilder = (*Pipeline)(nil)
	_ Hooks     = (*tracker.Set)(nil)
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHooks sets the rebuild lifecycle observer, normally the tracker set.
func WithHooks(h Hooks) Option {
	return func(p *Pipeline) { p.hooks = h }
}

// WithFallback sets the known-good manager. Default: fallback.New(eng).
func WithFallback(fb *fallback.Manager) Option {
	return func(p *Pipeline) { p.fallback = fb }
}

// WithReporter sets the status reporter.
func WithReporter(r *status.Reporter) Option {
	return func(p *Pipeline) { p.status = r }
}

// WithMetrics sets the metrics sink. nil records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithLogHome sets the directory relative file paths resolve against.
func WithLogHome(dir string) Option {
	return func(p *Pipeline) { p.home = dir }
}

// Pipeline rebuilds the live model from a source registry.
type Pipeline struct {
	reg      *source.Registry
	eng      engine.Engine
	hooks    Hooks
	fallback *fallback.Manager
	status   *status.Reporter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	home     string
}

// New creates a Pipeline reading reg and installing through eng.
func New(reg *source.Registry, eng engine.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		reg:    reg,
		eng:    eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fallback == nil {
		p.fallback = fallback.New(eng)
	}
	if p.status == nil {
		p.status = status.NewReporter(status.WithLogger(p.logger))
	}
	return p
}

// Fallback returns the known-good manager.
func (p *Pipeline) Fallback() *fallback.Manager { return p.fallback }

// Reporter returns the status reporter.
func (p *Pipeline) Reporter() *status.Reporter { return p.status }

// ---------------------------------------------------------------------------
// Rebuild cycle
// ---------------------------------------------------------------------------

// Rebuild runs one cycle. On success the new model is live with every
// dynamic component attached and its document is the known-good state. On
// failure the last known-good configuration is restored and the error
// returned.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	cycle := uuid.NewString()
	start := time.Now()
	p.emit(status.Event{Cycle: cycle, Phase: status.PhaseRebuildStart, Message: "reconfiguring the logging pipeline"})

	model, err := p.build(ctx, cycle)
	if err == nil {
		err = p.install(ctx, model)
	}
	if err != nil {
		outcome := metrics.OutcomeFailed
		if isConflict(err) {
			outcome = metrics.OutcomeConflict
		}
		p.fail(ctx, cycle, err)
		p.metrics.ObserveRebuild(outcome, time.Since(start).Seconds())
		return err
	}

	p.reattach(cycle, model)
	if err := p.fallback.SnapshotGood(model.Document()); err != nil {
		p.emit(status.Event{Cycle: cycle, Phase: status.PhaseWarning, Severity: status.SeverityWarning,
			Message: "could not record the known-good configuration", Err: err})
	}

	p.emit(status.Event{Cycle: cycle, Phase: status.PhaseRebuildComplete, Message: "logging pipeline reconfigured"})
	p.metrics.ObserveRebuild(metrics.OutcomeSuccess, time.Since(start).Seconds())
	return nil
}

// build validates and merges the registry snapshot and parses the result.
func (p *Pipeline) build(ctx context.Context, cycle string) (*engine.Model, error) {
	snap := p.reg.Snapshot()
	p.logger.Debug("rebuild snapshot", "cycle", cycle, "generation", snap.Generation(), "sources", len(snap.All()))

	if err := (validate.Validator{LogHome: p.home}).Err(snap); err != nil {
		return nil, err
	}

	doc, warnings, err := Merge(ctx, snap, p.home)
	if err != nil {
		return nil, fmt.Errorf("rebuild: merge: %w", err)
	}
	for _, w := range warnings {
		p.emit(status.Event{Cycle: cycle, Phase: status.PhaseWarning, Severity: status.SeverityWarning,
			Source: w.SourceID, Message: w.Message})
	}

	model, err := p.eng.Parse(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("rebuild: parse: %w", err)
	}
	return model, nil
}

func (p *Pipeline) install(ctx context.Context, model *engine.Model) error {
	if p.hooks != nil {
		p.hooks.OnRebuildStart(p.eng.Live())
	}
	if err := p.eng.Install(ctx, model); err != nil {
		return fmt.Errorf("rebuild: install: %w", err)
	}
	return nil
}

// reattach runs the completion hooks and reports each isolated failure.
func (p *Pipeline) reattach(cycle string, model *engine.Model) {
	if p.hooks == nil || model == nil {
		return
	}
	for _, err := range p.hooks.OnRebuildComplete(model) {
		ev := status.Event{Cycle: cycle, Phase: status.PhaseReattachFailed, Severity: status.SeverityError,
			Message: "could not reattach a dynamic component", Err: err}
		kind := "unknown"
		var rerr *tracker.ReattachError
		if errors.As(err, &rerr) {
			ev.Source = rerr.ID
			kind = rerr.Kind.String()
		}
		p.emit(ev)
		p.metrics.ReattachError(kind)
	}
}

// ---------------------------------------------------------------------------
// Failure handling
// ---------------------------------------------------------------------------

func (p *Pipeline) fail(ctx context.Context, cycle string, cause error) {
	var cerr *validate.ConflictError
	if errors.As(cause, &cerr) {
		for _, c := range cerr.Conflicts {
			p.emit(status.Event{Cycle: cycle, Phase: status.PhaseConflict, Severity: status.SeverityError,
				Source: c.SourceID, Message: c.String()})
			p.metrics.Conflict(c.Field)
		}
	}
	p.emit(status.Event{Cycle: cycle, Phase: status.PhaseRebuildFailed, Severity: status.SeverityError,
		Message: "failed to reconfigure the logging pipeline", Err: cause})

	restored, err := p.fallback.Restore(ctx)
	switch {
	case err == nil:
		p.emit(status.Event{Cycle: cycle, Phase: status.PhaseFallbackRestored, Severity: status.SeverityWarning,
			Message: "restored the last known-good configuration"})
		p.metrics.Fallback(metrics.FallbackRestored)
		if p.hooks != nil {
			p.hooks.OnRebuildStart(restored)
		}
		p.reattach(cycle, restored)

	case errors.Is(err, fallback.ErrNoSnapshot):
		p.emit(status.Event{Cycle: cycle, Phase: status.PhaseFallbackUnavailable, Severity: status.SeverityWarning,
			Message: err.Error()})
		p.metrics.Fallback(metrics.FallbackUnavailable)
		p.reattach(cycle, p.eng.Live())

	default:
		p.emit(status.Event{Cycle: cycle, Phase: status.PhaseFallbackFailed, Severity: status.SeveritySevere,
			Message: "the logging pipeline may be left in an undefined state", Err: err})
		p.metrics.Fallback(metrics.FallbackFailed)
		p.reattach(cycle, p.eng.Live())
	}
}

func (p *Pipeline) emit(ev status.Event) {
	p.status.Emit(ev)
}

func isConflict(err error) bool {
	var cerr *validate.ConflictError
	return errors.As(err, &cerr)
}
