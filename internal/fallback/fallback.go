// Package fallback keeps the last known-good pipeline configuration and
// reinstalls it when a rebuild fails.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dusk-indust/logwire/internal/engine"
)

// ErrNoSnapshot is returned by Restore before any rebuild has succeeded.
var ErrNoSnapshot = errors.New("fallback: no previous configuration to fall back on")

// ReplayError means the known-good snapshot itself failed to reinstall. The
// live pipeline is in whatever state the engine left it.
type ReplayError struct {
	Err error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("fallback: unexpected exception thrown by a configuration considered safe: %v", e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// Manager holds at most one serialized known-good document.
type Manager struct {
	eng engine.Engine

	mu   sync.Mutex
	good []byte
}

// New creates a Manager that restores through eng.
func New(eng engine.Engine) *Manager {
	return &Manager{eng: eng}
}

// SnapshotGood serializes doc and replaces the known-good snapshot with it.
func (m *Manager) SnapshotGood(doc engine.Document) error {
	data, err := engine.EncodeDocument(doc)
	if err != nil {
		return fmt.Errorf("fallback: snapshot: %w", err)
	}
	m.mu.Lock()
	m.good = data
	m.mu.Unlock()
	return nil
}

// HasSnapshot reports whether a known-good snapshot exists.
func (m *Manager) HasSnapshot() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.good != nil
}

// Snapshot returns a copy of the serialized known-good document.
func (m *Manager) Snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.good...)
}

// Restore replays the known-good snapshot: decode, parse, install. It
// returns ErrNoSnapshot when there is nothing to restore and a *ReplayError
// when the replay fails, including by panicking.
func (m *Manager) Restore(ctx context.Context) (model *engine.Model, err error) {
	m.mu.Lock()
	data := m.good
	m.mu.Unlock()
	if data == nil {
		return nil, ErrNoSnapshot
	}

	defer func() {
		if r := recover(); r != nil {
			model, err = nil, &ReplayError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	doc, err := engine.DecodeDocument(data)
	if err != nil {
		return nil, &ReplayError{Err: err}
	}
	model, err = m.eng.Parse(ctx, doc)
	if err != nil {
		return nil, &ReplayError{Err: err}
	}
	if err := m.eng.Install(ctx, model); err != nil {
		return nil, &ReplayError{Err: err}
	}
	return model, nil
}
