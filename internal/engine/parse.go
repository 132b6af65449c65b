package engine

import (
	"fmt"
	"path/filepath"
)

// Parse builds a Model from a merged Document. Sinks are described but not
// opened; outputs are realized by Install.
func Parse(doc Document) (*Model, error) {
	m := newModel(doc)

	for i, spec := range doc.Sinks {
		field := fmt.Sprintf("sinks[%d]", i)
		if spec.Name == "" {
			return nil, &ParseError{Field: field + ".name", Reason: "sink name is required"}
		}
		if _, dup := m.specs[spec.Name]; dup {
			return nil, &ParseError{Field: field + ".name", Reason: fmt.Sprintf("duplicate sink %q", spec.Name)}
		}
		norm, err := normalizeSink(spec)
		if err != nil {
			return nil, &ParseError{Field: field, Reason: err.Error()}
		}
		m.specs[spec.Name] = norm
	}

	root := doc.Root
	root.Name = RootLogger
	if root.Level == "" {
		root.Level = LevelInfo.String()
	}
	if err := m.bind(root, "root"); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(doc.Loggers))
	for i, spec := range doc.Loggers {
		field := fmt.Sprintf("loggers[%d]", i)
		name := normalizeName(spec.Name)
		if spec.Name == "" || name == RootLogger {
			return nil, &ParseError{Field: field + ".name", Reason: "logger name is required and must not be ROOT"}
		}
		if seen[name] {
			return nil, &ParseError{Field: field + ".name", Reason: fmt.Sprintf("duplicate logger %q", name)}
		}
		seen[name] = true
		if err := m.bind(spec, field); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Model) bind(spec LoggerSpec, field string) error {
	lg := newLogger(normalizeName(spec.Name))
	if spec.Level != "" {
		lvl, inherit, err := ParseLevel(spec.Level)
		if err != nil {
			return &ParseError{Field: field + ".level", Reason: err.Error()}
		}
		if inherit && lg.name == RootLogger {
			return &ParseError{Field: field + ".level", Reason: "root logger cannot inherit a level"}
		}
		lg.level, lg.hasLevel = lvl, !inherit
	}
	for _, s := range spec.Sinks {
		if _, ok := m.specs[s]; !ok {
			return &ParseError{Field: field + ".sinks", Reason: fmt.Sprintf("unknown sink %q", s)}
		}
		lg.sinks = append(lg.sinks, s)
	}
	lg.additive = spec.IsAdditive()
	lg.owner = spec.Owner
	m.loggers[lg.name] = lg
	return nil
}

func normalizeSink(spec SinkSpec) (SinkSpec, error) {
	switch spec.Format {
	case "":
		spec.Format = FormatText
	case FormatText, FormatJSON:
	default:
		return spec, fmt.Errorf("unknown format %q", spec.Format)
	}
	if spec.Rotation.MaxSize < 0 || spec.Rotation.MaxBackups < 0 {
		return spec, fmt.Errorf("rotation values must not be negative")
	}

	switch spec.Kind {
	case SinkConsole:
		spec.Path = ""
	case SinkFile:
		if spec.Path == "" {
			return spec, fmt.Errorf("file sink %q has no path", spec.Name)
		}
		abs, err := filepath.Abs(spec.Path)
		if err != nil {
			return spec, fmt.Errorf("resolve %s: %w", spec.Path, err)
		}
		spec.Path = abs
	default:
		return spec, fmt.Errorf("unknown sink kind %q", spec.Kind)
	}
	return spec, nil
}
