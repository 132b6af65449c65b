// Package tracker keeps dynamically contributed sinks, filters and
// pre-filters attached to the live pipeline. Each tracker holds its own
// durable list of components; the pipeline model has no memory of them, so
// the trackers re-apply every component after each rebuild.
package tracker

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dusk-indust/logwire/internal/engine"
)

// Wildcard is the target spec meaning every category.
const Wildcard = "*"

// Targets is the set of categories a component attaches to.
type Targets struct {
	all   bool
	names []string
}

// All targets every category the live model exposes, re-evaluated each time
// the component is attached.
func All() Targets { return Targets{all: true} }

// Categories targets the named categories.
func Categories(names ...string) Targets {
	return ParseTargets(names)
}

// ParseTargets converts a category list into Targets. A list containing
// Wildcard, or an empty list, targets all categories.
func ParseTargets(names []string) Targets {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if n == Wildcard {
			return All()
		}
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return All()
	}
	sort.Strings(out)
	return Targets{names: out}
}

// IsAll reports whether the targets are the wildcard.
func (t Targets) IsAll() bool { return t.all }

// Names returns the explicit target names; nil for the wildcard.
func (t Targets) Names() []string { return append([]string(nil), t.names...) }

// Resolve returns the concrete categories for model m.
func (t Targets) Resolve(m *engine.Model) []string {
	if t.all {
		return m.Categories()
	}
	return t.Names()
}

func (t Targets) String() string {
	if t.all {
		return Wildcard
	}
	return fmt.Sprint(t.names)
}

// Component is one dynamically registered sink, filter or pre-filter. Its
// identity is ID, independent of any model.
type Component struct {
	ID       string
	Targets  Targets
	Priority int
	Appender engine.Appender
	Filter   engine.Filter
}

// ReattachError reports a component that could not be attached to one
// category.
type ReattachError struct {
	Kind     engine.Kind
	ID       string
	Category string
	Err      error
}

func (e *ReattachError) Error() string {
	return fmt.Sprintf("tracker: attach %s %q to %s: %v", e.Kind, e.ID, e.Category, e.Err)
}

func (e *ReattachError) Unwrap() error { return e.Err }

type entry struct {
	comp     Component
	attached map[string]bool // categories attached on the current model
}

// Tracker tracks components of one kind.
type Tracker struct {
	kind   engine.Kind
	live   func() *engine.Model
	logger *slog.Logger

	mu         sync.Mutex
	components map[string]*entry
}

// New creates a tracker for kind. live returns the currently installed model
// and may return nil before the first install.
func New(kind engine.Kind, live func() *engine.Model, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		kind:       kind,
		live:       live,
		logger:     logger.With("tracker", kind.String()),
		components: make(map[string]*entry),
	}
}

// Kind returns the kind of component the tracker handles.
func (t *Tracker) Kind() engine.Kind { return t.kind }

// OnRegistered records c and attaches it to the live model. Registering an
// id that is already tracked behaves like OnModified.
func (t *Tracker) OnRegistered(c Component) error {
	if err := t.check(c); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.components[c.ID]; ok {
		return t.modifyLocked(c)
	}

	e := &entry{comp: c, attached: make(map[string]bool)}
	t.components[c.ID] = e
	t.logger.Debug("component registered", "id", c.ID, "targets", c.Targets.String())

	m := t.live()
	if m == nil {
		return nil
	}
	return t.attachLocked(m, e, c.Targets.Resolve(m))
}

// OnModified detaches c from categories it no longer targets and attaches
// it to newly targeted ones. An unknown id is registered.
func (t *Tracker) OnModified(c Component) error {
	if err := t.check(c); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.components[c.ID]; !ok {
		e := &entry{comp: c, attached: make(map[string]bool)}
		t.components[c.ID] = e
		if m := t.live(); m != nil {
			return t.attachLocked(m, e, c.Targets.Resolve(m))
		}
		return nil
	}
	return t.modifyLocked(c)
}

func (t *Tracker) modifyLocked(c Component) error {
	e := t.components[c.ID]
	e.comp = c

	m := t.live()
	if m == nil {
		return nil
	}

	wanted := make(map[string]bool)
	for _, name := range c.Targets.Resolve(m) {
		wanted[name] = true
	}
	for name := range e.attached {
		if wanted[name] {
			continue
		}
		if lg, ok := m.Lookup(name); ok {
			lg.Detach(t.kind, c.ID)
		}
		delete(e.attached, name)
	}

	// Re-attach everything wanted: the attachment itself may have changed
	// (new priority or implementation) and Attach replaces by name.
	names := make([]string, 0, len(wanted))
	for name := range wanted {
		names = append(names, name)
	}
	sort.Strings(names)
	t.logger.Debug("component modified", "id", c.ID, "targets", c.Targets.String())
	return t.attachLocked(m, e, names)
}

// OnUnregistered detaches the component from every category it is attached
// to and forgets it. Unknown ids and already-detached attachments are no-ops.
func (t *Tracker) OnUnregistered(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.components[id]
	if !ok {
		return
	}
	delete(t.components, id)

	m := t.live()
	if m == nil {
		return
	}
	for name := range e.attached {
		if lg, ok := m.Lookup(name); ok {
			lg.Detach(t.kind, id)
		}
	}
	t.logger.Debug("component unregistered", "id", id)
}

// OnRebuildStart forgets which categories each component is attached to;
// installing the new model drops every attachment implicitly.
func (t *Tracker) OnRebuildStart(*engine.Model) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.components {
		e.attached = make(map[string]bool)
	}
}

// OnRebuildComplete attaches every tracked component to m. Failures are
// isolated per component and returned together; the loop always finishes.
func (t *Tracker) OnRebuildComplete(m *engine.Model) []error {
	if m == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for _, id := range t.idsLocked() {
		e := t.components[id]
		e.attached = make(map[string]bool)
		if err := t.attachLocked(m, e, e.comp.Targets.Resolve(m)); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Components returns the tracked components ordered by id.
func (t *Tracker) Components() []Component {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Component, 0, len(t.components))
	for _, id := range t.idsLocked() {
		out = append(out, t.components[id].comp)
	}
	return out
}

// Len returns the number of tracked components.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.components)
}

// CategoriesFor returns the categories the component is attached to on the
// current model, sorted.
func (t *Tracker) CategoriesFor(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.components[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.attached))
	for name := range e.attached {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) idsLocked() []string {
	ids := make([]string, 0, len(t.components))
	for id := range t.components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// attachLocked attaches e to each named category, creating attachment points
// that do not exist yet. A panicking component is reported, not propagated.
func (t *Tracker) attachLocked(m *engine.Model, e *entry, names []string) (err error) {
	a := engine.Attachment{
		Kind:     t.kind,
		Name:     e.comp.ID,
		Priority: e.comp.Priority,
		Appender: e.comp.Appender,
		Filter:   e.comp.Filter,
	}

	var current string
	defer func() {
		if r := recover(); r != nil {
			err = &ReattachError{Kind: t.kind, ID: e.comp.ID, Category: current, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	for _, name := range names {
		current = name
		if aerr := m.Logger(name).Attach(a); aerr != nil {
			return &ReattachError{Kind: t.kind, ID: e.comp.ID, Category: name, Err: aerr}
		}
		e.attached[name] = true
	}
	return nil
}

func (t *Tracker) check(c Component) error {
	if c.ID == "" {
		return fmt.Errorf("tracker: %s component has no id", t.kind)
	}
	switch t.kind {
	case engine.KindSink:
		if c.Appender == nil {
			return fmt.Errorf("tracker: sink %q has no appender", c.ID)
		}
	default:
		if c.Filter == nil {
			return fmt.Errorf("tracker: %s %q has no filter", t.kind, c.ID)
		}
	}
	return nil
}
