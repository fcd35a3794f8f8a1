// Package mcp exposes the relationship engine as Model Context Protocol tools.
package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lazypower/synapse/internal/engine"
	"github.com/lazypower/synapse/internal/store"
)

// New creates an MCP server with every engine tool registered.
func New(db *store.DB, eng *engine.Engine, version string) *mcp.Server {
	t := &Tools{DB: db, Engine: eng}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "synapse",
		Version: version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "run_incremental",
		Description: "Link the entities extracted from one ingestion event to each other and to recent entities",
	}, t.RunIncremental)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "run_nightly",
		Description: "Run every detection strategy over recently changed entities (or all with full_scan), then decay and prune edges",
	}, t.RunNightly)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "run_on_demand",
		Description: "Trigger a manual analysis; a full nightly scan unless scoped is set",
	}, t.RunOnDemand)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_edges",
		Description: "List relationship edges, heaviest first, optionally filtered by entity and kind",
	}, t.ListEdges)

	return srv
}
