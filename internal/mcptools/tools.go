package mcptools

import (
	"github.com/dusk-indust/logwire/internal/export"
	"github.com/dusk-indust/logwire/internal/reconcile"
)

// --- MCP Tool Input Types ---
// These structs define the JSON schema for each MCP tool's input.
// The MCP Go SDK auto-generates JSON schemas from struct tags.

// ListSinksInput is the input for the list_sinks MCP tool.
type ListSinksInput struct {
	Origin string `json:"origin,omitempty" jsonschema:"sink origin to list: static, config or dynamic (default: all)"`
}

// ListSinksOutput is the result of the list_sinks MCP tool.
type ListSinksOutput struct {
	Sinks []reconcile.SinkInfo `json:"sinks"`
}

// CategoriesForSinkInput is the input for the categories_for_sink MCP tool.
type CategoriesForSinkInput struct {
	Origin string `json:"origin" jsonschema:"sink origin: static, config or dynamic"`
	Name   string `json:"name" jsonschema:"sink name as reported by list_sinks"`
}

// CategoriesForSinkOutput is the result of the categories_for_sink MCP tool.
type CategoriesForSinkOutput struct {
	Categories []string `json:"categories"`
}

// ListCategoriesInput is the input for the list_categories MCP tool.
type ListCategoriesInput struct {
	Prefix string `json:"prefix,omitempty" jsonschema:"only return categories whose name starts with this prefix"`
}

// ListCategoriesOutput is the result of the list_categories MCP tool.
type ListCategoriesOutput struct {
	Categories []reconcile.Category `json:"categories"`
}

// PutCategoryInput is the input for the put_category MCP tool.
type PutCategoryInput struct {
	ID       string   `json:"id" jsonschema:"category config id"`
	Names    []string `json:"names" jsonschema:"category names the config applies to"`
	Level    string   `json:"level,omitempty" jsonschema:"level: TRACE, DEBUG, INFO, WARN, ERROR, FATAL (same as ERROR), OFF, or DEFAULT to inherit from the parent category"`
	File     string   `json:"file,omitempty" jsonschema:"output file relative to the log home, or console"`
	Format   string   `json:"format,omitempty" jsonschema:"output format: text or json"`
	Additive *bool    `json:"additive,omitempty" jsonschema:"whether records also reach parent category sinks (default: true)"`
}

// PutCategoryOutput is the result of the put_category MCP tool.
type PutCategoryOutput struct {
	Accepted  bool     `json:"accepted"`
	Conflicts []string `json:"conflicts"`
}

// RemoveCategoryInput is the input for the remove_category MCP tool.
type RemoveCategoryInput struct {
	ID string `json:"id" jsonschema:"category config id"`
}

// RemoveCategoryOutput is the result of the remove_category MCP tool.
type RemoveCategoryOutput struct {
	Removed bool `json:"removed"`
}

// ReloadInput is the input for the reload MCP tool.
type ReloadInput struct{}

// ReloadOutput is the result of the reload MCP tool.
type ReloadOutput struct {
	Rebuilds int64 `json:"rebuilds"`
	Dirty    bool  `json:"dirty"`
}

// StatusInput is the input for the status MCP tool.
type StatusInput struct {
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum number of most recent events (default: 20)"`
	MinSeverity string `json:"minSeverity,omitempty" jsonschema:"lowest severity to include: info, warning, error or severe"`
}

// StatusOutput is the result of the status MCP tool.
type StatusOutput struct {
	Ready      bool                 `json:"ready"`
	InFlight   bool                 `json:"inFlight"`
	Rebuilds   int64                `json:"rebuilds"`
	Generation uint64               `json:"generation"`
	Events     []export.EventExport `json:"events"`
}
