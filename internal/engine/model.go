package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is a single log event routed through a Model.
type Record struct {
	Time     time.Time
	Category string
	Level    Level
	Message  string
	Attrs    []slog.Attr
}

// Decision is the verdict of a Filter.
type Decision int

const (
	Neutral Decision = iota
	Accept
	Deny
)

// Appender receives records routed to a logger it is attached to.
type Appender interface {
	Append(ctx context.Context, rec Record) error
}

// Filter decides whether a record proceeds. Pre-filters run before the level
// check; filters run per logger before its sinks are written.
type Filter interface {
	Decide(rec Record) Decision
}

// AppenderFunc adapts a function to Appender.
type AppenderFunc func(ctx context.Context, rec Record) error

// Append calls f.
func (f AppenderFunc) Append(ctx context.Context, rec Record) error { return f(ctx, rec) }

// FilterFunc adapts a function to Filter.
type FilterFunc func(rec Record) Decision

// Decide calls f.
func (f FilterFunc) Decide(rec Record) Decision { return f(rec) }

// Kind identifies the kind of a transient attachment.
type Kind int

const (
	KindSink Kind = iota
	KindFilter
	KindPreFilter
)

func (k Kind) String() string {
	switch k {
	case KindSink:
		return "sink"
	case KindFilter:
		return "filter"
	case KindPreFilter:
		return "prefilter"
	default:
		return "unknown"
	}
}

// Attachment is a component attached to a logger outside of the parsed
// configuration. Attachments are not part of the Document and do not survive
// an Install of a new Model.
type Attachment struct {
	Kind     Kind
	Name     string
	Priority int
	Appender Appender
	Filter   Filter
}

type attachKey struct {
	kind Kind
	name string
}

// Logger is the attachment point for one category.
type Logger struct {
	name string

	mu          sync.RWMutex
	level       Level
	hasLevel    bool
	additive    bool
	sinks       []string
	owner       string
	attachments map[attachKey]Attachment
}

func newLogger(name string) *Logger {
	return &Logger{
		name:        name,
		additive:    true,
		attachments: make(map[attachKey]Attachment),
	}
}

// Name returns the category name.
func (l *Logger) Name() string { return l.name }

// Level returns the explicit level and whether one is set.
func (l *Logger) Level() (Level, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level, l.hasLevel
}

// Additive reports whether events propagate to ancestor sinks.
func (l *Logger) Additive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.additive
}

// Sinks returns the names of the configured sinks bound to this logger.
func (l *Logger) Sinks() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.sinks...)
}

// Owner returns the id of the configuration source that defined the binding.
func (l *Logger) Owner() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner
}

// Attach adds or replaces an attachment keyed by kind and name. Attaching the
// same component twice leaves a single attachment.
func (l *Logger) Attach(a Attachment) error {
	if a.Name == "" {
		return fmt.Errorf("engine: attach to %s: empty attachment name", l.name)
	}
	switch a.Kind {
	case KindSink:
		if a.Appender == nil {
			return fmt.Errorf("engine: attach %s %q to %s: nil appender", a.Kind, a.Name, l.name)
		}
	case KindFilter, KindPreFilter:
		if a.Filter == nil {
			return fmt.Errorf("engine: attach %s %q to %s: nil filter", a.Kind, a.Name, l.name)
		}
	default:
		return fmt.Errorf("engine: attach %q to %s: unknown kind %d", a.Name, l.name, int(a.Kind))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.attachments[attachKey{a.Kind, a.Name}] = a
	return nil
}

// Detach removes an attachment. It reports whether anything was removed.
func (l *Logger) Detach(kind Kind, name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := attachKey{kind, name}
	if _, ok := l.attachments[k]; !ok {
		return false
	}
	delete(l.attachments, k)
	return true
}

// Attachments returns the attachments of the given kind ordered by priority,
// then name.
func (l *Logger) Attachments(kind Kind) []Attachment {
	l.mu.RLock()
	out := make([]Attachment, 0, len(l.attachments))
	for k, a := range l.attachments {
		if k.kind == kind {
			out = append(out, a)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Model is a parsed pipeline: sinks plus a tree of loggers. A Model is
// produced by Parse and becomes live through Install.
type Model struct {
	doc Document

	mu      sync.RWMutex
	loggers map[string]*Logger
	specs   map[string]SinkSpec
	outputs map[string]*sinkHandle
}

func newModel(doc Document) *Model {
	return &Model{
		doc:     doc,
		loggers: make(map[string]*Logger),
		specs:   make(map[string]SinkSpec),
		outputs: make(map[string]*sinkHandle),
	}
}

// Document returns the document the model was parsed from.
func (m *Model) Document() Document { return m.doc }

// Logger returns the attachment point for a category, creating it on first
// reference.
func (m *Model) Logger(name string) *Logger {
	name = normalizeName(name)

	m.mu.RLock()
	lg, ok := m.loggers[name]
	m.mu.RUnlock()
	if ok {
		return lg
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lg, ok := m.loggers[name]; ok {
		return lg
	}
	lg = newLogger(name)
	m.loggers[name] = lg
	return lg
}

// Lookup returns the attachment point for a category if it exists.
func (m *Model) Lookup(name string) (*Logger, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lg, ok := m.loggers[normalizeName(name)]
	return lg, ok
}

// Categories returns the names of every logger the model currently exposes,
// sorted.
func (m *Model) Categories() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.loggers))
	for name := range m.loggers {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// SinkSpecs returns the configured sinks keyed by name.
func (m *Model) SinkSpecs() map[string]SinkSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]SinkSpec, len(m.specs))
	for name, spec := range m.specs {
		out[name] = spec
	}
	return out
}

// CategoriesForSink returns the categories whose configured bindings name the
// sink, sorted.
func (m *Model) CategoriesForSink(sink string) []string {
	var out []string
	for _, name := range m.Categories() {
		lg, _ := m.Lookup(name)
		for _, s := range lg.Sinks() {
			if s == sink {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// EffectiveLevel returns the level in force for a category, inherited from
// the nearest ancestor with an explicit level.
func (m *Model) EffectiveLevel(category string) Level {
	for _, lg := range m.chain(category) {
		if lvl, ok := lg.Level(); ok {
			return lvl
		}
	}
	return LevelInfo
}

// chain returns the existing loggers from the category up to ROOT.
func (m *Model) chain(category string) []*Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Logger
	name := normalizeName(category)
	for name != RootLogger {
		if lg, ok := m.loggers[name]; ok {
			out = append(out, lg)
		}
		name = parentName(name)
	}
	if root, ok := m.loggers[RootLogger]; ok {
		out = append(out, root)
	}
	return out
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, RootLogger) {
		return RootLogger
	}
	return name
}

func parentName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return RootLogger
}
