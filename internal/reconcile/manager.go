// Package reconcile is the entry point of the live-configuration engine. A
// Manager owns the source registry, the dynamic component trackers, the
// rebuild pipeline and the coordinator, and exposes the operations callers
// use to change configuration, contribute components and inspect the live
// pipeline.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dusk-indust/logwire/internal/coordinator"
	"github.com/dusk-indust/logwire/internal/engine"
	"github.com/dusk-indust/logwire/internal/metrics"
	"github.com/dusk-indust/logwire/internal/rebuild"
	"github.com/dusk-indust/logwire/internal/source"
	"github.com/dusk-indust/logwire/internal/status"
	"github.com/dusk-indust/logwire/internal/tracker"
	"github.com/dusk-indust/logwire/internal/validate"
)

// Option configures a Manager.
type Option func(*Manager)

// WithEngine sets the engine. Default: engine.New with the manager's logger.
func WithEngine(e engine.Engine) Option {
	return func(m *Manager) { m.eng = e }
}

// WithLogHome sets the directory relative output files resolve against.
func WithLogHome(dir string) Option {
	return func(m *Manager) { m.home = dir }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger for the manager and everything it creates.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithReporter sets the status reporter.
func WithReporter(r *status.Reporter) Option {
	return func(m *Manager) { m.status = r }
}

// Manager wires the reconciler together.
type Manager struct {
	eng     engine.Engine
	home    string
	metrics *metrics.Metrics
	logger  *slog.Logger
	status  *status.Reporter

	// claimMu serializes the conflict check and store of sources that
	// claim files or categories.
	claimMu sync.Mutex

	reg      *source.Registry
	trackers *tracker.Set
	pipeline *rebuild.Pipeline
	coord    *coordinator.Coordinator
}

// New creates a Manager. Nothing is installed until Start.
func New(opts ...Option) *Manager {
	m := &Manager{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	if m.eng == nil {
		m.eng = engine.New(engine.WithLogger(m.logger))
	}
	if m.status == nil {
		m.status = status.NewReporter(status.WithLogger(m.logger))
	}

	m.reg = source.NewRegistry()
	m.trackers = tracker.NewSet(m.eng.Live, m.logger)
	m.pipeline = rebuild.New(m.reg, m.eng,
		rebuild.WithHooks(m.trackers),
		rebuild.WithReporter(m.status),
		rebuild.WithMetrics(m.metrics),
		rebuild.WithLogger(m.logger),
		rebuild.WithLogHome(m.home),
	)
	m.coord = coordinator.New(m.pipeline,
		coordinator.WithReporter(m.status),
		coordinator.WithMetrics(m.metrics),
		coordinator.WithLogger(m.logger),
	)
	return m
}

// Start installs the initial configuration and applies any change made
// while it loaded.
func (m *Manager) Start(ctx context.Context) error {
	return m.coord.Start(ctx)
}

// Close closes the status channel and, when the engine owns resources, the
// engine.
func (m *Manager) Close() error {
	m.status.Close()
	if c, ok := m.eng.(io.Closer); ok {
		if err := c.Close(); err != nil && !errors.Is(err, engine.ErrClosed) {
			return fmt.Errorf("reconcile: close: %w", err)
		}
	}
	return nil
}

// NotifyConfigChanged tells the manager that configuration it reads changed.
// It never reports rebuild failures; those go to the status channel.
func (m *Manager) NotifyConfigChanged(ctx context.Context) {
	m.coord.MarkChanged(ctx)
}

// RequestReload forces a rebuild.
func (m *Manager) RequestReload(ctx context.Context) {
	m.coord.RequestReload(ctx)
}

// Live returns the installed model, or nil before Start.
func (m *Manager) Live() *engine.Model { return m.eng.Live() }

// Log routes a record through the live model. Records logged before Start
// are dropped.
func (m *Manager) Log(ctx context.Context, rec engine.Record) error {
	live := m.eng.Live()
	if live == nil {
		return nil
	}
	return live.Log(ctx, rec)
}

// Status returns the recent status events, oldest first.
func (m *Manager) Status() []status.Event { return m.status.History() }

// Subscribe returns the status event channel.
func (m *Manager) Subscribe() <-chan status.Event { return m.status.Subscribe() }

// Reporter returns the status reporter.
func (m *Manager) Reporter() *status.Reporter { return m.status }

// Coordinator returns the rebuild coordinator.
func (m *Manager) Coordinator() *coordinator.Coordinator { return m.coord }

// LogHome returns the directory relative output files resolve against.
func (m *Manager) LogHome() string { return m.home }

// ---------------------------------------------------------------------------
// Configuration sources
// ---------------------------------------------------------------------------

// SetGlobal replaces the global configuration and schedules a rebuild. A
// config whose file is already claimed by another source, or whose fields
// are invalid, is rejected with a *validate.ConflictError and not stored.
func (m *Manager) SetGlobal(ctx context.Context, cfg source.GlobalConfig) error {
	if err := m.putClaim(ctx, source.Global(cfg)); err != nil {
		return fmt.Errorf("reconcile: set global: %w", err)
	}
	return nil
}

// PutCategoryConfig adds or replaces category config id. A config that
// introduces a conflict, such as claiming an output file or category another
// source owns, is rejected with a *validate.ConflictError naming the owner
// and is not stored.
func (m *Manager) PutCategoryConfig(ctx context.Context, id string, cfg source.CategoryConfig) error {
	if err := m.putClaim(ctx, source.Category(id, cfg)); err != nil {
		return fmt.Errorf("reconcile: put category %s: %w", id, err)
	}
	return nil
}

// putClaim stores src unless it introduces a conflict, then schedules a
// rebuild.
func (m *Manager) putClaim(ctx context.Context, src source.Source) error {
	m.claimMu.Lock()
	own := m.introduced(src)
	if len(own) > 0 {
		m.claimMu.Unlock()
		for _, c := range own {
			m.status.Emit(status.Event{Phase: status.PhaseConflict, Severity: status.SeverityError,
				Source: c.SourceID, Message: c.String()})
			m.metrics.Conflict(c.Field)
		}
		return &validate.ConflictError{Conflicts: own}
	}
	err := m.reg.Put(src)
	m.claimMu.Unlock()
	if err != nil {
		return err
	}
	m.coord.MarkChanged(ctx)
	return nil
}

// introduced returns the conflicts storing src would add to the registry.
// Conflicts present before the change are not attributed to it. The first
// claimant in snapshot order owns a claim, so when src is ordered before
// the source it collides with, the conflict is turned around to name src.
func (m *Manager) introduced(src source.Source) []validate.Conflict {
	v := validate.Validator{LogHome: m.home}
	current := m.reg.Snapshot()

	existing := make(map[string]bool)
	for _, c := range v.Check(current) {
		existing[c.String()] = true
	}
	var own []validate.Conflict
	for _, c := range v.Check(current.With(src)) {
		if existing[c.String()] {
			continue
		}
		if c.OwnerID == src.ID && c.SourceID != src.ID {
			c.SourceID, c.OwnerID = src.ID, c.SourceID
		}
		own = append(own, c)
	}
	return own
}

// RemoveCategoryConfig removes category config id. It reports whether it
// existed; removing an unknown id does not rebuild.
func (m *Manager) RemoveCategoryConfig(ctx context.Context, id string) bool {
	return m.remove(ctx, source.KindCategory, id)
}

// PutFragment adds or replaces an inline fragment document.
func (m *Manager) PutFragment(ctx context.Context, id string, doc []byte) error {
	return m.putFragment(ctx, id, source.Fragment{Raw: append([]byte(nil), doc...)})
}

// PutFragmentFile adds or replaces a fragment read from path on every
// rebuild.
func (m *Manager) PutFragmentFile(ctx context.Context, id, path string) error {
	return m.putFragment(ctx, id, source.Fragment{Path: path})
}

// PutFragmentProvider adds or replaces a fragment supplied by p on every
// rebuild.
func (m *Manager) PutFragmentProvider(ctx context.Context, id string, p source.FragmentProvider) error {
	return m.putFragment(ctx, id, source.Fragment{Provider: p})
}

// RemoveFragment removes fragment id and reports whether it existed.
func (m *Manager) RemoveFragment(ctx context.Context, id string) bool {
	return m.remove(ctx, source.KindFragment, id)
}

// Fragments returns the registered fragment sources in registration order.
func (m *Manager) Fragments() []source.Source {
	return m.reg.Snapshot().Fragments()
}

// Sources returns a snapshot of every registered source.
func (m *Manager) Sources() source.Snapshot {
	return m.reg.Snapshot()
}

func (m *Manager) putFragment(ctx context.Context, id string, f source.Fragment) error {
	if err := m.reg.Put(source.FragmentSource(id, f)); err != nil {
		return fmt.Errorf("reconcile: put fragment %s: %w", id, err)
	}
	m.coord.MarkChanged(ctx)
	return nil
}

func (m *Manager) remove(ctx context.Context, kind source.Kind, id string) bool {
	if !m.reg.Remove(kind, id) {
		return false
	}
	m.coord.MarkChanged(ctx)
	return true
}

// ---------------------------------------------------------------------------
// Dynamic components
// ---------------------------------------------------------------------------

// RegisterSink attaches a sink to its target categories now and after every
// rebuild.
func (m *Manager) RegisterSink(c tracker.Component) error {
	return m.register(engine.KindSink, c)
}

// ModifySink changes a registered sink's targets or implementation.
func (m *Manager) ModifySink(c tracker.Component) error {
	return m.modify(engine.KindSink, c)
}

// UnregisterSink detaches and forgets a sink.
func (m *Manager) UnregisterSink(id string) { m.unregister(engine.KindSink, id) }

// RegisterFilter attaches a filter to its target categories.
func (m *Manager) RegisterFilter(c tracker.Component) error {
	return m.register(engine.KindFilter, c)
}

// ModifyFilter changes a registered filter.
func (m *Manager) ModifyFilter(c tracker.Component) error {
	return m.modify(engine.KindFilter, c)
}

// UnregisterFilter detaches and forgets a filter.
func (m *Manager) UnregisterFilter(id string) { m.unregister(engine.KindFilter, id) }

// RegisterPreFilter attaches a pre-filter to its target categories.
func (m *Manager) RegisterPreFilter(c tracker.Component) error {
	return m.register(engine.KindPreFilter, c)
}

// ModifyPreFilter changes a registered pre-filter.
func (m *Manager) ModifyPreFilter(c tracker.Component) error {
	return m.modify(engine.KindPreFilter, c)
}

// UnregisterPreFilter detaches and forgets a pre-filter.
func (m *Manager) UnregisterPreFilter(id string) { m.unregister(engine.KindPreFilter, id) }

// Components returns the tracked components of a kind ordered by id.
func (m *Manager) Components(kind engine.Kind) []tracker.Component {
	return m.trackers.For(kind).Components()
}

func (m *Manager) register(kind engine.Kind, c tracker.Component) error {
	t := m.trackers.For(kind)
	if err := t.OnRegistered(c); err != nil {
		return fmt.Errorf("reconcile: register %s: %w", kind, err)
	}
	m.metrics.SetComponents(kind.String(), t.Len())
	return nil
}

func (m *Manager) modify(kind engine.Kind, c tracker.Component) error {
	t := m.trackers.For(kind)
	if err := t.OnModified(c); err != nil {
		return fmt.Errorf("reconcile: modify %s: %w", kind, err)
	}
	m.metrics.SetComponents(kind.String(), t.Len())
	return nil
}

func (m *Manager) unregister(kind engine.Kind, id string) {
	t := m.trackers.For(kind)
	t.OnUnregistered(id)
	m.metrics.SetComponents(kind.String(), t.Len())
}
