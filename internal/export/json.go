package export

import (
	"sort"
	"time"

	"github.com/dusk-indust/logwire/internal/reconcile"
	"github.com/dusk-indust/logwire/internal/source"
	"github.com/dusk-indust/logwire/internal/status"
)

// State is the read side of a running reconciler. *reconcile.Manager
// implements it.
type State interface {
	Sources() source.Snapshot
	KnownOutputSinks(origin reconcile.Origin) map[string]reconcile.SinkInfo
	Categories() []reconcile.Category
	Status() []status.Event
}

var _ State = (*reconcile.Manager)(nil)

// StateExport is the top-level JSON export structure.
type StateExport struct {
	ExportedAt string               `json:"exportedAt"`
	Generation uint64               `json:"generation"`
	Sources    []SourceExport       `json:"sources"`
	Sinks      []reconcile.SinkInfo `json:"sinks"`
	Categories []reconcile.Category `json:"categories"`
	Events     []EventExport        `json:"events,omitempty"`
}

// SourceExport describes one registered configuration source.
type SourceExport struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Version uint64 `json:"version"`
	Path    string `json:"path,omitempty"`
}

// EventExport is a status event with its error flattened to text.
type EventExport struct {
	Time     string `json:"time"`
	Cycle    string `json:"cycle,omitempty"`
	Phase    string `json:"phase"`
	Severity string `json:"severity"`
	Source   string `json:"source,omitempty"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
}

// ExportState builds a StateExport from s. At most maxEvents of the most
// recent status events are included; zero omits them.
func ExportState(s State, maxEvents int) *StateExport {
	snap := s.Sources()
	out := &StateExport{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Generation: snap.Generation(),
		Sources:    []SourceExport{},
		Sinks:      Sinks(s),
		Categories: s.Categories(),
	}
	if out.Categories == nil {
		out.Categories = []reconcile.Category{}
	}

	for _, src := range snap.All() {
		se := SourceExport{Kind: src.Kind.String(), ID: src.ID, Version: src.Version}
		if src.Fragment != nil {
			se.Path = src.Fragment.Path
		}
		out.Sources = append(out.Sources, se)
	}

	events := s.Status()
	if maxEvents > 0 && len(events) > maxEvents {
		events = events[len(events)-maxEvents:]
	}
	if maxEvents > 0 {
		for _, ev := range events {
			out.Events = append(out.Events, Event(ev))
		}
	}
	return out
}

// Event flattens a status event for JSON output.
func Event(ev status.Event) EventExport {
	ee := EventExport{
		Time:     ev.Time.UTC().Format(time.RFC3339Nano),
		Cycle:    ev.Cycle,
		Phase:    string(ev.Phase),
		Severity: ev.Severity.String(),
		Source:   ev.Source,
		Message:  ev.Message,
	}
	if ev.Err != nil {
		ee.Error = ev.Err.Error()
	}
	return ee
}

// Sinks lists every known sink ordered by origin then name.
func Sinks(s State) []reconcile.SinkInfo {
	out := []reconcile.SinkInfo{}
	for _, origin := range reconcile.Origins {
		byName := s.KnownOutputSinks(origin)
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, byName[name])
		}
	}
	return out
}
