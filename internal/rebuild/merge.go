package rebuild

import (
	"context"
	"fmt"
	"strings"

	"github.com/dusk-indust/logwire/internal/engine"
	"github.com/dusk-indust/logwire/internal/source"
	"github.com/dusk-indust/logwire/internal/validate"
)

// Warning is a non-fatal merge finding.
type Warning struct {
	SourceID string
	Message  string
}

// FileSinkName returns the name of the file sink owned by a source.
func FileSinkName(id string) string { return "file:" + id }

// merger accumulates one engine.Document from a registry snapshot.
// Precedence, lowest first: global defaults, category configs, fragments in
// registration order. Category configs only bind loggers no fragment
// defines.
type merger struct {
	home string

	doc      engine.Document
	sinks    map[string]int    // sink name -> index in doc.Sinks
	paths    map[string]string // resolved file path -> sink name
	loggers  map[string]int    // logger name -> index in doc.Loggers
	warnings []Warning
}

// Merge builds the document the engine parses from snap. Relative file paths
// are resolved against home.
func Merge(ctx context.Context, snap source.Snapshot, home string) (engine.Document, []Warning, error) {
	m := &merger{
		home:    home,
		sinks:   make(map[string]int),
		paths:   make(map[string]string),
		loggers: make(map[string]int),
	}

	if err := m.global(snap); err != nil {
		return engine.Document{}, nil, err
	}
	for _, src := range snap.Fragments() {
		if err := m.fragment(ctx, src); err != nil {
			return engine.Document{}, nil, err
		}
	}
	for _, src := range snap.Categories() {
		if err := m.category(src); err != nil {
			return engine.Document{}, nil, err
		}
	}
	return m.doc, m.warnings, nil
}

func (m *merger) warn(id, format string, args ...any) {
	m.warnings = append(m.warnings, Warning{SourceID: id, Message: fmt.Sprintf(format, args...)})
}

func (m *merger) global(snap source.Snapshot) error {
	g, ok := snap.Global()
	if !ok {
		m.doc.Root = engine.LoggerSpec{
			Level: engine.LevelInfo.String(),
			Sinks: []string{m.console(engine.FormatText)},
		}
		return nil
	}

	level := g.Level
	if level == "" {
		level = engine.LevelInfo.String()
	}
	m.doc.Root = engine.LoggerSpec{Level: level, Owner: source.GlobalID}
	if g.UsesConsole() {
		m.doc.Root.Sinks = []string{m.console(g.Format)}
		return nil
	}

	name, err := m.file(source.GlobalID, g.File, g.Format, g.Rotation)
	if err != nil {
		return err
	}
	m.doc.Root.Sinks = []string{name}
	return nil
}

func (m *merger) fragment(ctx context.Context, src source.Source) error {
	field := "fragments." + src.ID
	raw, err := src.Fragment.Document(ctx)
	if err != nil {
		return &engine.ParseError{Field: field, Reason: err.Error()}
	}
	frag, err := engine.DecodeDocument(raw)
	if err != nil {
		return &engine.ParseError{Field: field, Reason: err.Error()}
	}

	// Sink names this fragment redefines replace global-derived defaults;
	// references inside the fragment follow the new definition.
	for i, spec := range frag.Sinks {
		sfield := fmt.Sprintf("%s.sinks[%d]", field, i)
		if spec.Name == "" {
			return &engine.ParseError{Field: sfield + ".name", Reason: "sink name is required"}
		}
		spec.Owner = src.ID
		spec.Static = true
		if spec.Kind == engine.SinkFile {
			if spec.Path == "" {
				return &engine.ParseError{Field: sfield, Reason: "file sink requires a path"}
			}
			p, err := validate.ResolvePath(m.home, spec.Path)
			if err != nil {
				return &engine.ParseError{Field: sfield + ".path", Reason: err.Error()}
			}
			spec.Path = p
		}

		if idx, exists := m.sinks[spec.Name]; exists {
			if prev := m.doc.Sinks[idx]; prev.Static {
				return &engine.ParseError{Field: sfield + ".name", Reason: fmt.Sprintf("sink %q is already defined by fragment %s", spec.Name, prev.Owner)}
			}
			if owner, taken := m.paths[spec.Path]; spec.Path != "" && taken && owner != spec.Name {
				return &engine.ParseError{Field: sfield + ".path", Reason: fmt.Sprintf("output file %s is already written by sink %q", spec.Path, owner)}
			}
			m.replaceSink(spec.Name, spec)
			continue
		}
		if owner, taken := m.paths[spec.Path]; spec.Path != "" && taken {
			prev := m.doc.Sinks[m.sinks[owner]]
			if prev.Static {
				return &engine.ParseError{Field: sfield + ".path", Reason: fmt.Sprintf("output file %s is already written by sink %q", spec.Path, owner)}
			}
			m.warn(src.ID, "output file %s of %s is taken over by sink %s of fragment %s", spec.Path, prev.Owner, spec.Name, src.ID)
			m.replaceSink(owner, spec)
			continue
		}
		m.sinks[spec.Name] = len(m.doc.Sinks)
		m.doc.Sinks = append(m.doc.Sinks, spec)
		if spec.Path != "" {
			m.paths[spec.Path] = spec.Name
		}
	}

	if frag.Root.Level != "" {
		m.doc.Root.Level = frag.Root.Level
		m.doc.Root.Owner = src.ID
	}
	if len(frag.Root.Sinks) > 0 {
		m.doc.Root.Sinks = append([]string(nil), frag.Root.Sinks...)
		m.doc.Root.Owner = src.ID
	}

	for i, spec := range frag.Loggers {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return &engine.ParseError{Field: fmt.Sprintf("%s.loggers[%d].name", field, i), Reason: "logger name is required"}
		}
		spec.Name = name
		spec.Owner = src.ID
		if j, exists := m.loggers[name]; exists {
			m.warn(src.ID, "category %s from fragment %s replaces the definition from %s", name, src.ID, m.doc.Loggers[j].Owner)
			m.doc.Loggers[j] = spec
			continue
		}
		m.loggers[name] = len(m.doc.Loggers)
		m.doc.Loggers = append(m.doc.Loggers, spec)
	}
	return nil
}

func (m *merger) category(src source.Source) error {
	cfg := src.Category

	// A logger a fragment defines keeps the fragment's definition.
	names := make([]string, 0, len(cfg.Names))
	for _, name := range cfg.Names {
		name = strings.TrimSpace(name)
		if j, exists := m.loggers[name]; exists {
			m.warn(src.ID, "category %s is defined by fragment %s; category config %s is not applied to it", name, m.doc.Loggers[j].Owner, src.ID)
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}

	var sink string
	if cfg.UsesConsole() {
		sink = m.console(cfg.Format)
	} else {
		name, err := m.file(src.ID, cfg.File, cfg.Format, cfg.Rotation)
		if err != nil {
			return err
		}
		sink = name
	}

	for _, name := range names {
		m.loggers[name] = len(m.doc.Loggers)
		m.doc.Loggers = append(m.doc.Loggers, engine.LoggerSpec{
			Name:     name,
			Level:    cfg.Level,
			Sinks:    []string{sink},
			Additive: cfg.Additive,
			Owner:    src.ID,
		})
	}
	return nil
}

// replaceSink puts spec in place of the sink named old and re-points every
// binding that referenced it.
func (m *merger) replaceSink(old string, spec engine.SinkSpec) {
	i := m.sinks[old]
	if prev := m.doc.Sinks[i]; prev.Path != "" {
		delete(m.paths, prev.Path)
	}
	delete(m.sinks, old)
	m.doc.Sinks[i] = spec
	m.sinks[spec.Name] = i
	if spec.Path != "" {
		m.paths[spec.Path] = spec.Name
	}
	if old == spec.Name {
		return
	}
	rename(m.doc.Root.Sinks, old, spec.Name)
	for j := range m.doc.Loggers {
		rename(m.doc.Loggers[j].Sinks, old, spec.Name)
	}
}

func rename(names []string, old, name string) {
	for i := range names {
		if names[i] == old {
			names[i] = name
		}
	}
}

// console returns the shared console sink, adding it on first use. The
// first user decides its format.
func (m *merger) console(format string) string {
	if _, ok := m.sinks[engine.ConsoleSinkName]; !ok {
		m.sinks[engine.ConsoleSinkName] = len(m.doc.Sinks)
		m.doc.Sinks = append(m.doc.Sinks, engine.SinkSpec{
			Name:   engine.ConsoleSinkName,
			Kind:   engine.SinkConsole,
			Format: format,
		})
	}
	return engine.ConsoleSinkName
}

// file returns the sink writing to file for source id. When a fragment
// already writes to the same resolved path, the fragment's sink is reused
// and a warning is recorded.
func (m *merger) file(id, file, format string, rot engine.Rotation) (string, error) {
	p, err := validate.ResolvePath(m.home, file)
	if err != nil {
		return "", &engine.ParseError{Field: id + ".file", Reason: err.Error()}
	}
	if existing, taken := m.paths[p]; taken {
		spec := m.doc.Sinks[m.sinks[existing]]
		if spec.Static {
			m.warn(id, "output file %s is already defined by sink %s of fragment %s; %s writes to that sink", p, existing, spec.Owner, id)
		}
		return existing, nil
	}

	name := FileSinkName(id)
	m.sinks[name] = len(m.doc.Sinks)
	m.paths[p] = name
	m.doc.Sinks = append(m.doc.Sinks, engine.SinkSpec{
		Name:     name,
		Kind:     engine.SinkFile,
		Path:     p,
		Format:   format,
		Rotation: rot,
		Owner:    id,
	})
	return name, nil
}
