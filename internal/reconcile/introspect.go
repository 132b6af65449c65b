package reconcile

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/logwire/internal/engine"
)

// Origin classifies where an output sink comes from.
type Origin string

const (
	// OriginStatic sinks are defined by configuration fragments.
	OriginStatic Origin = "static"
	// OriginConfig sinks are derived from the global and category configs.
	OriginConfig Origin = "config"
	// OriginDynamic sinks are registered at runtime.
	OriginDynamic Origin = "dynamic"
)

// Origins lists every origin in display order.
var Origins = []Origin{OriginStatic, OriginConfig, OriginDynamic}

// ParseOrigin converts a name into an Origin.
func ParseOrigin(s string) (Origin, error) {
	switch o := Origin(strings.ToLower(strings.TrimSpace(s))); o {
	case OriginStatic, OriginConfig, OriginDynamic:
		return o, nil
	default:
		return "", fmt.Errorf("reconcile: unknown sink origin %q (want static, config or dynamic)", s)
	}
}

// SinkInfo describes one output sink known to the live pipeline.
type SinkInfo struct {
	Name   string `json:"name"`
	Origin Origin `json:"origin"`
	Kind   string `json:"kind,omitempty"`
	Path   string `json:"path,omitempty"`
	Format string `json:"format,omitempty"`
	Owner  string `json:"owner,omitempty"`
}

// KnownOutputSinks returns the sinks of an origin keyed by name. Static and
// config sinks come from the live model; dynamic sinks from the sink tracker.
func (m *Manager) KnownOutputSinks(origin Origin) map[string]SinkInfo {
	out := make(map[string]SinkInfo)
	if origin == OriginDynamic {
		for _, c := range m.trackers.Sinks.Components() {
			out[c.ID] = SinkInfo{Name: c.ID, Origin: OriginDynamic}
		}
		return out
	}

	live := m.eng.Live()
	if live == nil {
		return out
	}
	for name, spec := range live.SinkSpecs() {
		if spec.Static != (origin == OriginStatic) {
			continue
		}
		out[name] = SinkInfo{
			Name:   name,
			Origin: origin,
			Kind:   spec.Kind,
			Path:   spec.Path,
			Format: spec.Format,
			Owner:  spec.Owner,
		}
	}
	return out
}

// CategoriesForSink returns the categories a sink of the given origin is
// bound or attached to, sorted. Unknown sinks yield nil.
func (m *Manager) CategoriesForSink(origin Origin, name string) []string {
	if origin == OriginDynamic {
		return m.trackers.Sinks.CategoriesFor(name)
	}
	live := m.eng.Live()
	if live == nil {
		return nil
	}
	spec, ok := live.SinkSpecs()[name]
	if !ok || spec.Static != (origin == OriginStatic) {
		return nil
	}
	return live.CategoriesForSink(name)
}

// Category describes one category of the live model.
type Category struct {
	Name     string   `json:"name"`
	Level    string   `json:"level"`
	Explicit bool     `json:"explicit"`
	Additive bool     `json:"additive"`
	Sinks    []string `json:"sinks,omitempty"`
	Dynamic  []string `json:"dynamic,omitempty"`
	Owner    string   `json:"owner,omitempty"`
}

// Categories describes every category the live model exposes.
func (m *Manager) Categories() []Category {
	live := m.eng.Live()
	if live == nil {
		return nil
	}
	var out []Category
	for _, name := range live.Categories() {
		lg, ok := live.Lookup(name)
		if !ok {
			continue
		}
		_, explicit := lg.Level()
		c := Category{
			Name:     name,
			Level:    live.EffectiveLevel(name).String(),
			Explicit: explicit,
			Additive: lg.Additive(),
			Sinks:    lg.Sinks(),
			Owner:    lg.Owner(),
		}
		for _, a := range lg.Attachments(engine.KindSink) {
			c.Dynamic = append(c.Dynamic, a.Name)
		}
		out = append(out, c)
	}
	return out
}
