package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/synapse/internal/config"
	"github.com/lazypower/synapse/internal/engine"
	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/llm"
	"github.com/lazypower/synapse/internal/store"
)

// setup starts the server on in-memory transports and returns a connected
// client session.
func setup(t *testing.T, withEngine bool) (*mcp.ClientSession, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var eng *engine.Engine
	if withEngine {
		mock := &llm.MockClient{Response: &llm.Response{Content: `{"relationships": []}`}}
		eng = engine.New(db, mock, config.Default().Engine)
	}

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err = New(db, eng, "test").Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session, db
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text, result.IsError
}

func seed(t *testing.T, db *store.DB) {
	t.Helper()
	for _, e := range []graph.Entity{
		{ID: "r1", Type: "role", Title: "CTO at Acme Corp", SourceEventID: "ev-1"},
		{ID: "o1", Type: "organization", Title: "Acme Corp", SourceEventID: "ev-1"},
	} {
		e := e
		require.NoError(t, db.CreateEntity(context.Background(), &e))
	}
}

func TestListTools(t *testing.T) {
	session, _ := setup(t, true)
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"run_incremental", "run_nightly", "run_on_demand", "list_edges"}, names)
}

func TestRunIncrementalTool(t *testing.T) {
	session, db := setup(t, true)
	seed(t, db)

	text, isErr := callTool(t, session, "run_incremental", map[string]any{"event_id": "ev-1"})
	require.False(t, isErr, text)

	var res engine.RunResult
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.Equal(t, store.RunIncremental, res.Mode)
	assert.Equal(t, 1, res.EdgesCreated)

	text, isErr = callTool(t, session, "list_edges", map[string]any{"entity_id": "r1", "kind": "role_at"})
	require.False(t, isErr, text)
	var edges []graph.Edge
	require.NoError(t, json.Unmarshal([]byte(text), &edges))
	require.Len(t, edges, 1)
	assert.Equal(t, "o1", edges[0].ToID)
}

func TestRunNightlyTool(t *testing.T) {
	session, db := setup(t, true)
	seed(t, db)

	text, isErr := callTool(t, session, "run_nightly", map[string]any{"full_scan": true})
	require.False(t, isErr, text)

	var res engine.RunResult
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.Equal(t, store.RunNightly, res.Mode)
	require.NotNil(t, res.EntitiesAnalyzed)
	assert.Equal(t, 2, *res.EntitiesAnalyzed)
	require.NotNil(t, res.EdgesPruned)
}

func TestRunOnDemandTool(t *testing.T) {
	session, db := setup(t, true)
	seed(t, db)

	text, isErr := callTool(t, session, "run_on_demand", map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, `"status":"error"`)

	text, isErr = callTool(t, session, "run_on_demand", map[string]any{"entity_ids": []string{"r1", "o1"}, "scoped": true})
	require.False(t, isErr, text)
	var res engine.RunResult
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.Equal(t, store.RunOnDemand, res.Mode)
	assert.Nil(t, res.EdgesPruned)
	assert.Equal(t, 1, res.EdgesCreated)
}

func TestToolsWithoutEngine(t *testing.T) {
	session, _ := setup(t, false)

	text, isErr := callTool(t, session, "run_nightly", map[string]any{})
	assert.True(t, isErr)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(text), &body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "engine not configured", body["error"])

	text, isErr = callTool(t, session, "list_edges", map[string]any{})
	require.False(t, isErr, text)
	assert.JSONEq(t, `[]`, text)
}
