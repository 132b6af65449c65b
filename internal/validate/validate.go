// Package validate enforces ownership invariants across configuration
// sources: an output file is claimed by one source, a category is claimed by
// one category configuration, and level tokens are recognized.
package validate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dusk-indust/logwire/internal/engine"
	"github.com/dusk-indust/logwire/internal/source"
)

// Conflict describes one violated invariant.
type Conflict struct {
	// SourceID is the id of the offending source.
	SourceID string
	// Field names the offending field, e.g. "file" or "names[0]".
	Field string
	// Reason is a human-readable description.
	Reason string
	// OwnerID is the id of the source already holding the claim, if any.
	OwnerID string
}

func (c Conflict) String() string {
	if c.OwnerID != "" {
		return fmt.Sprintf("%s.%s: %s (owned by %s)", c.SourceID, c.Field, c.Reason, c.OwnerID)
	}
	return fmt.Sprintf("%s.%s: %s", c.SourceID, c.Field, c.Reason)
}

// ConflictError carries every conflict found in one validation pass.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.String()
	}
	return fmt.Sprintf("validate: %d conflict(s): %s", len(e.Conflicts), strings.Join(parts, "; "))
}

// Validator checks snapshots. LogHome is the base for relative file paths;
// empty means the working directory.
type Validator struct {
	LogHome string
}

// Check is Validator{}.Check.
func Check(snap source.Snapshot) []Conflict {
	return Validator{}.Check(snap)
}

// Err returns a *ConflictError for the snapshot, or nil when it is valid.
func (v Validator) Err(snap source.Snapshot) error {
	if conflicts := v.Check(snap); len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// Check returns every conflict in the snapshot. The first source in snapshot
// order to claim a path or category owns it; later claimants conflict.
func (v Validator) Check(snap source.Snapshot) []Conflict {
	var conflicts []Conflict
	paths := make(map[string]string)      // resolved path -> owner id
	categories := make(map[string]string) // category name -> owner id

	claimPath := func(id, file string) {
		p, err := ResolvePath(v.LogHome, file)
		if err != nil {
			conflicts = append(conflicts, Conflict{SourceID: id, Field: "file", Reason: err.Error()})
			return
		}
		if owner, taken := paths[p]; taken && owner != id {
			conflicts = append(conflicts, Conflict{
				SourceID: id,
				Field:    "file",
				Reason:   fmt.Sprintf("output file %s is already in use", p),
				OwnerID:  owner,
			})
			return
		}
		paths[p] = id
	}

	if g, ok := snap.Global(); ok {
		if g.Level != "" {
			if _, inherit, err := engine.ParseLevel(g.Level); err != nil {
				conflicts = append(conflicts, Conflict{SourceID: source.GlobalID, Field: "level", Reason: err.Error()})
			} else if inherit {
				conflicts = append(conflicts, Conflict{SourceID: source.GlobalID, Field: "level", Reason: "the root level cannot inherit"})
			}
		}
		conflicts = append(conflicts, checkOutput(source.GlobalID, g.Format, g.Rotation)...)
		if !g.UsesConsole() {
			claimPath(source.GlobalID, g.File)
		}
	}

	for _, src := range snap.Categories() {
		cfg := src.Category
		if len(cfg.Names) == 0 {
			conflicts = append(conflicts, Conflict{SourceID: src.ID, Field: "names", Reason: "at least one category is required"})
		}
		if err := CheckLevel(cfg.Level); err != nil {
			conflicts = append(conflicts, Conflict{SourceID: src.ID, Field: "level", Reason: err.Error()})
		}
		conflicts = append(conflicts, checkOutput(src.ID, cfg.Format, cfg.Rotation)...)
		if !cfg.UsesConsole() {
			claimPath(src.ID, cfg.File)
		}

		for i, name := range cfg.Names {
			field := fmt.Sprintf("names[%d]", i)
			name = strings.TrimSpace(name)
			if name == "" {
				conflicts = append(conflicts, Conflict{SourceID: src.ID, Field: field, Reason: "empty category name"})
				continue
			}
			if owner, taken := categories[name]; taken {
				reason := fmt.Sprintf("category %q is already configured", name)
				if owner == src.ID {
					reason = fmt.Sprintf("category %q is listed twice", name)
				}
				conflicts = append(conflicts, Conflict{SourceID: src.ID, Field: field, Reason: reason, OwnerID: owner})
				continue
			}
			categories[name] = src.ID
		}
	}
	return conflicts
}

// CheckLevel accepts an empty token, a recognized level or the inherit
// sentinel.
func CheckLevel(token string) error {
	if token == "" {
		return nil
	}
	_, _, err := engine.ParseLevel(token)
	return err
}

func checkOutput(id, format string, rot engine.Rotation) []Conflict {
	var out []Conflict
	switch format {
	case "", engine.FormatText, engine.FormatJSON:
	default:
		out = append(out, Conflict{SourceID: id, Field: "format", Reason: fmt.Sprintf("unknown format %q", format)})
	}
	if rot.MaxSize < 0 || rot.MaxBackups < 0 {
		out = append(out, Conflict{SourceID: id, Field: "rotation", Reason: "rotation values must not be negative"})
	}
	return out
}

// ResolvePath returns the absolute, cleaned form of file. Relative paths are
// resolved against home, or the working directory when home is empty.
func ResolvePath(home, file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("empty file path")
	}
	if !filepath.IsAbs(file) && home != "" {
		file = filepath.Join(home, file)
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", file, err)
	}
	return abs, nil
}
