// Package engine is the in-process logging engine the reconciler drives. It
// parses a merged Document into a Model, installs a Model as the live
// pipeline, exposes per-category attachment points, and routes records.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Engine is the contract the reconciler depends on.
type Engine interface {
	// Parse builds a new Model from a merged document without touching the
	// live pipeline.
	Parse(ctx context.Context, doc Document) (*Model, error)

	// Install makes m the live Model. Attachments on the previous Model are
	// discarded along with it.
	Install(ctx context.Context, m *Model) error

	// Live returns the installed Model, or nil before the first Install.
	Live() *Model
}

// Compile-time check.
var _ Engine = (*Runtime)(nil)

// ErrClosed is returned by Install after Close.
var ErrClosed = errors.New("engine: closed")

// Option configures a Runtime.
type Option func(*Runtime)

// WithConsole sets the writer behind the shared console sink. Default: os.Stderr.
func WithConsole(w io.Writer) Option {
	return func(r *Runtime) { r.console = &consoleOutput{w: w} }
}

// WithLogger sets the logger used for the engine's own diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// Runtime is the default Engine. It owns every opened output and reuses them
// across installs.
type Runtime struct {
	console *consoleOutput
	logger  *slog.Logger

	mu      sync.Mutex
	live    *Model
	outputs map[string]output
	closed  bool
}

// New creates a Runtime with no live model.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		console: &consoleOutput{w: os.Stderr},
		logger:  slog.Default(),
		outputs: make(map[string]output),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Parse validates doc and builds a detached Model.
func (r *Runtime) Parse(_ context.Context, doc Document) (*Model, error) {
	return Parse(doc)
}

// Install opens the outputs m needs, reusing ones already open for the same
// destination, swaps m in as live and closes outputs nothing references any
// more. If an output cannot be opened the live model is left untouched.
func (r *Runtime) Install(_ context.Context, m *Model) error {
	if m == nil {
		return fmt.Errorf("engine: install: nil model")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	next := make(map[string]output, len(m.specs))
	var opened []output
	for _, spec := range m.specs {
		key := outputKey(spec)
		if _, ok := next[key]; ok {
			continue
		}
		if out, ok := r.outputs[key]; ok {
			if fo, isFile := out.(*fileOutput); isFile {
				fo.setRotation(spec.Rotation)
			}
			next[key] = out
			continue
		}
		out, err := r.open(spec)
		if err != nil {
			for _, o := range opened {
				o.Close()
			}
			return fmt.Errorf("engine: install: %w", err)
		}
		opened = append(opened, out)
		next[key] = out
	}

	m.mu.Lock()
	for name, spec := range m.specs {
		m.outputs[name] = newSinkHandle(spec, next[outputKey(spec)])
	}
	m.mu.Unlock()

	prev := r.outputs
	r.live = m
	r.outputs = next

	for key, out := range prev {
		if _, kept := next[key]; kept {
			continue
		}
		if err := out.Close(); err != nil {
			r.logger.Warn("engine: close released output", "output", key, "error", err)
		}
	}
	return nil
}

// Live returns the installed Model.
func (r *Runtime) Live() *Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Close flushes and closes every output. The live model stays readable but
// further Installs fail.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, out := range r.outputs {
		if err := out.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.outputs = map[string]output{}
	return errors.Join(errs...)
}

func (r *Runtime) open(spec SinkSpec) (output, error) {
	switch spec.Kind {
	case SinkConsole:
		return r.console, nil
	case SinkFile:
		return openFileOutput(spec.Path, spec.Rotation)
	default:
		return nil, fmt.Errorf("sink %q: unknown kind %q", spec.Name, spec.Kind)
	}
}
