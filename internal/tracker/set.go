package tracker

import (
	"log/slog"

	"github.com/dusk-indust/logwire/internal/engine"
)

// Set groups the sink, filter and pre-filter trackers and fans the rebuild
// hooks out to each.
type Set struct {
	Sinks      *Tracker
	Filters    *Tracker
	PreFilters *Tracker
}

// NewSet creates one tracker per component kind.
func NewSet(live func() *engine.Model, logger *slog.Logger) *Set {
	return &Set{
		Sinks:      New(engine.KindSink, live, logger),
		Filters:    New(engine.KindFilter, live, logger),
		PreFilters: New(engine.KindPreFilter, live, logger),
	}
}

// All returns the trackers in a fixed order.
func (s *Set) All() []*Tracker {
	return []*Tracker{s.Sinks, s.Filters, s.PreFilters}
}

// For returns the tracker for kind.
func (s *Set) For(kind engine.Kind) *Tracker {
	switch kind {
	case engine.KindSink:
		return s.Sinks
	case engine.KindFilter:
		return s.Filters
	default:
		return s.PreFilters
	}
}

// OnRebuildStart calls OnRebuildStart on every tracker.
func (s *Set) OnRebuildStart(m *engine.Model) {
	for _, t := range s.All() {
		t.OnRebuildStart(m)
	}
}

// OnRebuildComplete reattaches every tracker's components to m and returns
// all per-component failures.
func (s *Set) OnRebuildComplete(m *engine.Model) []error {
	var errs []error
	for _, t := range s.All() {
		errs = append(errs, t.OnRebuildComplete(m)...)
	}
	return errs
}
