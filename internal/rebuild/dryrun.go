package rebuild

import (
	"context"
	"fmt"

	"github.com/dusk-indust/logwire/internal/engine"
	"github.com/dusk-indust/logwire/internal/source"
	"github.com/dusk-indust/logwire/internal/validate"
)

// DryRun validates and merges snap and parses the result without installing
// it or opening any output.
func DryRun(ctx context.Context, snap source.Snapshot, home string) (*engine.Model, []Warning, error) {
	if err := (validate.Validator{LogHome: home}).Err(snap); err != nil {
		return nil, nil, err
	}
	doc, warnings, err := Merge(ctx, snap, home)
	if err != nil {
		return nil, warnings, fmt.Errorf("rebuild: merge: %w", err)
	}
	model, err := engine.Parse(doc)
	if err != nil {
		return nil, warnings, fmt.Errorf("rebuild: parse: %w", err)
	}
	return model, warnings, nil
}
