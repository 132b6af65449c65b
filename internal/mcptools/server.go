package mcptools

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewMCPServer creates an MCP server with the logwire tools registered.
func NewMCPServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "logwire",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sinks",
		Description: "List the output sinks known to the live logging pipeline, grouped by origin: static (fragment documents), config (global and category configs) or dynamic (registered at runtime).",
	}, svc.ListSinks)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "categories_for_sink",
		Description: "Return the logging categories a sink is bound or attached to.",
	}, svc.CategoriesForSink)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_categories",
		Description: "Describe every category of the live pipeline: effective level, additivity, configured sinks and runtime attachments.",
	}, svc.ListCategories)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "put_category",
		Description: "Add or replace a category config. Configs that would write to a file another source owns are rejected and the conflicts returned.",
	}, svc.PutCategory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_category",
		Description: "Remove a category config and rebuild the pipeline.",
	}, svc.RemoveCategory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reload",
		Description: "Rebuild the logging pipeline from the current configuration sources.",
	}, svc.Reload)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "status",
		Description: "Report reconciler state and recent status events such as rebuilds, conflicts and fallbacks.",
	}, svc.Status)

	return server
}

// RunMCPServer starts an HTTP server exposing the logwire MCP tools.
func RunMCPServer(ctx context.Context, svc *Service, addr string) error {
	server := NewMCPServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunMCPServerStdio runs the MCP server on stdio transport, blocking until
// stdin is closed or the context is cancelled.
func RunMCPServerStdio(ctx context.Context, svc *Service) error {
	return NewMCPServer(svc).Run(ctx, &mcp.StdioTransport{})
}
