package mcptools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/logwire/internal/export"
	"github.com/dusk-indust/logwire/internal/reconcile"
	"github.com/dusk-indust/logwire/internal/source"
	"github.com/dusk-indust/logwire/internal/status"
	"github.com/dusk-indust/logwire/internal/validate"
)

const defaultStatusLimit = 20

// Service holds the reconciler the MCP tool handlers inspect and drive.
type Service struct {
	mgr *reconcile.Manager
}

// NewService creates a Service over mgr.
func NewService(mgr *reconcile.Manager) *Service {
	return &Service{mgr: mgr}
}

// ListSinks reports the known output sinks, optionally of one origin.
func (s *Service) ListSinks(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ListSinksInput,
) (*mcp.CallToolResult, ListSinksOutput, error) {
	all := export.Sinks(s.mgr)
	if input.Origin == "" {
		return nil, ListSinksOutput{Sinks: all}, nil
	}
	origin, err := reconcile.ParseOrigin(input.Origin)
	if err != nil {
		return nil, ListSinksOutput{}, err
	}
	out := ListSinksOutput{Sinks: []reconcile.SinkInfo{}}
	for _, info := range all {
		if info.Origin == origin {
			out.Sinks = append(out.Sinks, info)
		}
	}
	return nil, out, nil
}

// CategoriesForSink reports the categories a sink is bound or attached to.
func (s *Service) CategoriesForSink(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input CategoriesForSinkInput,
) (*mcp.CallToolResult, CategoriesForSinkOutput, error) {
	if input.Name == "" {
		return nil, CategoriesForSinkOutput{}, errors.New("name is required")
	}
	origin, err := reconcile.ParseOrigin(input.Origin)
	if err != nil {
		return nil, CategoriesForSinkOutput{}, err
	}
	cats := s.mgr.CategoriesForSink(origin, input.Name)
	if cats == nil {
		cats = []string{}
	}
	return nil, CategoriesForSinkOutput{Categories: cats}, nil
}

// ListCategories describes the categories of the live pipeline.
func (s *Service) ListCategories(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ListCategoriesInput,
) (*mcp.CallToolResult, ListCategoriesOutput, error) {
	out := ListCategoriesOutput{Categories: []reconcile.Category{}}
	for _, c := range s.mgr.Categories() {
		if strings.HasPrefix(c.Name, input.Prefix) {
			out.Categories = append(out.Categories, c)
		}
	}
	return nil, out, nil
}

// PutCategory adds or replaces a category config. A config rejected for
// output conflicts is reported in the output rather than as a tool error.
func (s *Service) PutCategory(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input PutCategoryInput,
) (*mcp.CallToolResult, PutCategoryOutput, error) {
	if input.ID == "" {
		return nil, PutCategoryOutput{}, errors.New("id is required")
	}
	cfg := source.CategoryConfig{
		Names:    input.Names,
		Level:    input.Level,
		File:     input.File,
		Format:   input.Format,
		Additive: input.Additive,
	}
	err := s.mgr.PutCategoryConfig(ctx, input.ID, cfg)

	var cerr *validate.ConflictError
	switch {
	case errors.As(err, &cerr):
		out := PutCategoryOutput{Conflicts: make([]string, 0, len(cerr.Conflicts))}
		for _, c := range cerr.Conflicts {
			out.Conflicts = append(out.Conflicts, c.String())
		}
		return nil, out, nil
	case err != nil:
		return nil, PutCategoryOutput{}, fmt.Errorf("put category %s: %w", input.ID, err)
	}
	return nil, PutCategoryOutput{Accepted: true, Conflicts: []string{}}, nil
}

// RemoveCategory removes a category config.
func (s *Service) RemoveCategory(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RemoveCategoryInput,
) (*mcp.CallToolResult, RemoveCategoryOutput, error) {
	if input.ID == "" {
		return nil, RemoveCategoryOutput{}, errors.New("id is required")
	}
	return nil, RemoveCategoryOutput{Removed: s.mgr.RemoveCategoryConfig(ctx, input.ID)}, nil
}

// Reload forces a rebuild from the current sources.
func (s *Service) Reload(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ReloadInput,
) (*mcp.CallToolResult, ReloadOutput, error) {
	s.mgr.RequestReload(ctx)
	coord := s.mgr.Coordinator()
	return nil, ReloadOutput{Rebuilds: coord.Rebuilds(), Dirty: coord.Dirty()}, nil
}

// Status reports coordinator state and the most recent status events.
func (s *Service) Status(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	minSev, err := status.ParseSeverity(input.MinSeverity)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultStatusLimit
	}

	var events []status.Event
	for _, ev := range s.mgr.Status() {
		if ev.Severity >= minSev {
			events = append(events, ev)
		}
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	coord := s.mgr.Coordinator()
	out := StatusOutput{
		Ready:      coord.Ready(),
		InFlight:   coord.InFlight(),
		Rebuilds:   coord.Rebuilds(),
		Generation: s.mgr.Sources().Generation(),
		Events:     make([]export.EventExport, 0, len(events)),
	}
	for _, ev := range events {
		out.Events = append(out.Events, export.Event(ev))
	}
	return nil, out, nil
}
