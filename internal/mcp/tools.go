package mcp

import (
	"context"
	"encoding/json"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lazypower/synapse/internal/engine"
	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/store"
)

// Tools holds what the tool handlers need.
type Tools struct {
	DB     *store.DB
	Engine *engine.Engine
}

// --- Input types ---

type RunIncrementalInput struct {
	EventID string `json:"event_id" jsonschema:"ID of the ingestion event whose entities should be linked"`
}

type RunNightlyInput struct {
	FullScan bool `json:"full_scan,omitempty" jsonschema:"Analyze every entity instead of the last 24 hours"`
}

type RunOnDemandInput struct {
	EntityIDs []string `json:"entity_ids,omitempty" jsonschema:"Entities to analyze; only honored when scoped is true"`
	All       bool     `json:"all,omitempty" jsonschema:"Analyze the whole graph"`
	Scoped    bool     `json:"scoped,omitempty" jsonschema:"Restrict detection to entity_ids and skip decay and prune"`
}

type ListEdgesInput struct {
	EntityID string `json:"entity_id,omitempty" jsonschema:"Only edges touching this entity"`
	Kind     string `json:"kind,omitempty" jsonschema:"Only edges of this relationship kind"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum number of edges (default 50)"`
}

// --- Handlers ---

func (t *Tools) RunIncremental(ctx context.Context, _ *mcp.CallToolRequest, input RunIncrementalInput) (*mcp.CallToolResult, any, error) {
	if input.EventID == "" {
		return toolError("event_id is required"), nil, nil
	}
	if t.Engine == nil {
		return toolError("engine not configured"), nil, nil
	}
	res, err := t.Engine.Incremental(ctx, input.EventID)
	return runResult(store.RunIncremental, res, err)
}

func (t *Tools) RunNightly(ctx context.Context, _ *mcp.CallToolRequest, input RunNightlyInput) (*mcp.CallToolResult, any, error) {
	if t.Engine == nil {
		return toolError("engine not configured"), nil, nil
	}
	res, err := t.Engine.Nightly(ctx, input.FullScan)
	return runResult(store.RunNightly, res, err)
}

func (t *Tools) RunOnDemand(ctx context.Context, _ *mcp.CallToolRequest, input RunOnDemandInput) (*mcp.CallToolResult, any, error) {
	if len(input.EntityIDs) == 0 && !input.All {
		return toolError("entity_ids or all is required"), nil, nil
	}
	if t.Engine == nil {
		return toolError("engine not configured"), nil, nil
	}
	ids := input.EntityIDs
	if input.All {
		ids = nil
	}
	res, err := t.Engine.OnDemand(ctx, engine.OnDemandRequest{EntityIDs: ids, Scoped: input.Scoped})
	return runResult(store.RunOnDemand, res, err)
}

func (t *Tools) ListEdges(ctx context.Context, _ *mcp.CallToolRequest, input ListEdgesInput) (*mcp.CallToolResult, any, error) {
	f := store.EdgeFilter{EntityID: input.EntityID, Limit: input.Limit}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if input.Kind != "" {
		kind, err := graph.ParseKind(input.Kind)
		if err != nil {
			return toolError(err.Error()), nil, nil
		}
		f.Kind = kind
	}

	edges, err := t.DB.ListEdges(ctx, f)
	if err != nil {
		return toolError(err.Error()), nil, nil
	}
	if edges == nil {
		edges = []graph.Edge{}
	}
	return toolJSON(edges)
}

func runResult(mode string, res *engine.RunResult, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		log.Printf("mcp: %s run failed: %v", mode, err)
		return toolError(err.Error()), nil, nil
	}
	return toolJSON(res)
}

// toolError reports a failure in the same shape as the HTTP API.
func toolError(msg string) *mcp.CallToolResult {
	data, _ := json.Marshal(map[string]string{"status": "error", "error": msg})
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("marshal result: " + err.Error()), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
