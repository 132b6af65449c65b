package engine

import (
	"context"
	"fmt"
	"sync/atomic"
)

var _ Engine = (*Planner)(nil)

// Planner is an Engine that installs models without opening any output.
// Records logged through a planned model reach dynamic attachments only.
// It backs dry runs such as validating or exporting a configuration.
type Planner struct {
	live atomic.Pointer[Model]
}

// NewPlanner creates a Planner with no live model.
func NewPlanner() *Planner { return &Planner{} }

// Parse validates doc and builds a detached Model.
func (p *Planner) Parse(_ context.Context, doc Document) (*Model, error) {
	return Parse(doc)
}

// Install makes m the live model.
func (p *Planner) Install(_ context.Context, m *Model) error {
	if m == nil {
		return fmt.Errorf("engine: install: nil model")
	}
	p.live.Store(m)
	return nil
}

// Live returns the installed Model.
func (p *Planner) Live() *Model { return p.live.Load() }
