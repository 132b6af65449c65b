package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Sink kinds understood by the engine.
const (
	SinkConsole = "console"
	SinkFile    = "file"
)

// Output encodings for realized sinks.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// RootLogger is the name of the root of the category hierarchy.
const RootLogger = "ROOT"

// ConsoleSinkName is the name of the shared console sink.
const ConsoleSinkName = "CONSOLE"

// Document is the merged configuration the engine parses into a Model. It is
// also the schema of external configuration fragments.
type Document struct {
	Root    LoggerSpec   `yaml:"root,omitempty"`
	Sinks   []SinkSpec   `yaml:"sinks,omitempty"`
	Loggers []LoggerSpec `yaml:"loggers,omitempty"`
}

// SinkSpec describes one output destination.
type SinkSpec struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Path     string   `yaml:"path,omitempty"`
	Format   string   `yaml:"format,omitempty"`
	Rotation Rotation `yaml:"rotation,omitempty"`

	// Owner is the id of the configuration source that defined the sink,
	// empty for sinks with no owning source.
	Owner string `yaml:"owner,omitempty"`

	// Static marks sinks defined by an external fragment document.
	Static bool `yaml:"static,omitempty"`
}

// Rotation is a size-based rotation policy. MaxSize 0 disables rotation.
type Rotation struct {
	MaxSize    int64 `yaml:"maxSize,omitempty"`
	MaxBackups int   `yaml:"maxBackups,omitempty"`
}

// LoggerSpec binds a category to a level and a set of sinks.
type LoggerSpec struct {
	Name     string   `yaml:"name,omitempty"`
	Level    string   `yaml:"level,omitempty"`
	Sinks    []string `yaml:"sinks,omitempty"`
	Additive *bool    `yaml:"additive,omitempty"`
	Owner    string   `yaml:"owner,omitempty"`
}

// IsAdditive reports whether events continue to ancestor loggers' sinks.
// Unset means additive.
func (s LoggerSpec) IsAdditive() bool {
	return s.Additive == nil || *s.Additive
}

// DecodeDocument strictly decodes a YAML document. Unknown fields are
// rejected so typos surface as parse failures instead of silent no-ops.
// An empty document decodes to a zero Document.
func DecodeDocument(raw []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, nil
		}
		return Document{}, &ParseError{Field: "document", Reason: err.Error()}
	}
	return doc, nil
}

// EncodeDocument serializes a Document to YAML.
func EncodeDocument(doc Document) ([]byte, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("engine: encode document: %w", err)
	}
	return data, nil
}

// ParseError reports a malformed document.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("engine: parse %s: %s", e.Field, e.Reason)
}
