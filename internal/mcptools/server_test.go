package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/logwire/internal/engine"
	"github.com/dusk-indust/logwire/internal/metrics"
	"github.com/dusk-indust/logwire/internal/reconcile"
	"github.com/dusk-indust/logwire/internal/source"
	"github.com/dusk-indust/logwire/internal/tracker"
)

type discard struct{}

func (discard) Append(context.Context, engine.Record) error { return nil }

func newRunningManager(t *testing.T) *reconcile.Manager {
	t.Helper()
	ctx := context.Background()
	m := reconcile.New(
		reconcile.WithEngine(engine.New(engine.WithConsole(&bytes.Buffer{}))),
		reconcile.WithLogHome(t.TempDir()),
		reconcile.WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.PutCategoryConfig(ctx, "db", source.CategoryConfig{Names: []string{"db", "db.pool"}, Level: "DEBUG", File: "db.log"}))
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.RegisterSink(tracker.Component{ID: "mem", Targets: tracker.Categories("http"), Appender: discard{}}))
	return m
}

// setupServerClient wires an MCP server and client together using in-memory
// transports.
func setupServerClient(t *testing.T) (*mcp.ClientSession, *reconcile.Manager) {
	t.Helper()

	mgr := newRunningManager(t)
	server := NewMCPServer(NewService(mgr))

	st, ct := mcp.NewInMemoryTransports()
	ctx := context.Background()

	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		session.Close()
	})

	return session, mgr
}

func callTool[T any](t *testing.T, session *mcp.ClientSession, name string, args map[string]any) T {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "tool %s returned an error result", name)

	data, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestMCPListTools(t *testing.T) {
	session, _ := setupServerClient(t)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)

	expected := []string{
		"categories_for_sink",
		"list_categories",
		"list_sinks",
		"put_category",
		"reload",
		"remove_category",
		"status",
	}
	assert.Equal(t, expected, names)
}

func TestMCPListSinks(t *testing.T) {
	session, _ := setupServerClient(t)

	all := callTool[ListSinksOutput](t, session, "list_sinks", map[string]any{})
	var names []string
	for _, s := range all.Sinks {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{engine.ConsoleSinkName, "file:db", "mem"}, names)

	dynamic := callTool[ListSinksOutput](t, session, "list_sinks", map[string]any{"origin": "dynamic"})
	require.Len(t, dynamic.Sinks, 1)
	assert.Equal(t, reconcile.OriginDynamic, dynamic.Sinks[0].Origin)

	static := callTool[ListSinksOutput](t, session, "list_sinks", map[string]any{"origin": "static"})
	assert.Empty(t, static.Sinks)
}

func TestMCPCategoriesForSink(t *testing.T) {
	session, _ := setupServerClient(t)

	out := callTool[CategoriesForSinkOutput](t, session, "categories_for_sink", map[string]any{"origin": "config", "name": "file:db"})
	assert.Equal(t, []string{"db", "db.pool"}, out.Categories)

	out = callTool[CategoriesForSinkOutput](t, session, "categories_for_sink", map[string]any{"origin": "dynamic", "name": "mem"})
	assert.Equal(t, []string{"http"}, out.Categories)
}

func TestMCPPutCategoryAndReload(t *testing.T) {
	session, mgr := setupServerClient(t)

	ok := callTool[PutCategoryOutput](t, session, "put_category", map[string]any{
		"id": "net", "names": []string{"net"}, "level": "WARN",
	})
	assert.True(t, ok.Accepted)
	assert.Equal(t, engine.LevelWarn, mgr.Live().EffectiveLevel("net"))

	rejected := callTool[PutCategoryOutput](t, session, "put_category", map[string]any{
		"id": "thief", "names": []string{"thief"}, "file": "db.log",
	})
	assert.False(t, rejected.Accepted)
	require.Len(t, rejected.Conflicts, 1)
	assert.Contains(t, rejected.Conflicts[0], "owned by db")

	before := mgr.Coordinator().Rebuilds()
	reload := callTool[ReloadOutput](t, session, "reload", map[string]any{})
	assert.Equal(t, before+1, reload.Rebuilds)
	assert.False(t, reload.Dirty)

	removed := callTool[RemoveCategoryOutput](t, session, "remove_category", map[string]any{"id": "net"})
	assert.True(t, removed.Removed)
}

func TestMCPStatus(t *testing.T) {
	session, _ := setupServerClient(t)

	out := callTool[StatusOutput](t, session, "status", map[string]any{"limit": 2})
	assert.True(t, out.Ready)
	assert.False(t, out.InFlight)
	assert.Equal(t, int64(1), out.Rebuilds)
	assert.Len(t, out.Events, 2)
	assert.Equal(t, "rebuild-complete", out.Events[1].Phase)

	errorsOnly := callTool[StatusOutput](t, session, "status", map[string]any{"minSeverity": "error"})
	assert.Empty(t, errorsOnly.Events)
}
