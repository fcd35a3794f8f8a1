package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/llm"
	"github.com/lazypower/synapse/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeEmbedder returns fixed vectors keyed by entity text.
type fakeEmbedder struct {
	vectors map[string][]float64

	mu       sync.Mutex
	embedded []string
}

func (f *fakeEmbedder) Model() string   { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return 3 }

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	f.embedded = append(f.embedded, texts...)
	f.mu.Unlock()
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, ok := f.vectors[text]
		if !ok {
			vec = []float64{0, 0, 1}
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) embedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.embedded)
}

type panicStrategy struct{}

func (panicStrategy) Name() string { return "panicky" }
func (panicStrategy) Detect(context.Context, Input) ([]graph.Proposal, error) {
	panic("boom")
}

func TestRunStrategyIsolatesPanics(t *testing.T) {
	out := runStrategy(context.Background(), panicStrategy{}, Input{})

	require.Error(t, out.Err)
	var serr *StrategyError
	require.True(t, errors.As(out.Err, &serr))
	assert.Equal(t, "panicky", serr.Strategy)
	assert.Contains(t, out.Err.Error(), "boom")
	assert.Nil(t, out.Proposals)
}

func TestPatternStrategy(t *testing.T) {
	entities := []graph.Entity{
		{ID: "r1", Type: "role", Title: "CTO at Acme Corp (2019-2021)"},
		{ID: "r2", Type: "role", Title: "Engineer, Globex"},
		{ID: "r3", Type: "role", Title: "Freelancer"},
		{ID: "r4", Type: "role", Title: "Advisor at Initech"},
		{ID: "o1", Type: "organization", Title: "Acme Corp"},
		{ID: "o2", Type: "organization", Title: "Globex Inc"},
		{ID: "p1", Type: "person", Title: "Ada"},
	}

	proposals, err := PatternStrategy{}.Detect(context.Background(), Input{Entities: entities})
	require.NoError(t, err)
	require.Len(t, proposals, 2)

	assert.Equal(t, "r1", proposals[0].FromID)
	assert.Equal(t, "o1", proposals[0].ToID)
	assert.Equal(t, graph.KindRoleAt, proposals[0].Kind)
	assert.Equal(t, 0.95, proposals[0].Confidence)
	assert.Equal(t, 0.85, *proposals[0].Importance)
	assert.Equal(t, "Role at Acme Corp", proposals[0].Description)
	assert.Equal(t, "role_at_organization", proposals[0].Metadata.String("pattern_match"))

	assert.Equal(t, "r2", proposals[1].FromID)
	assert.Equal(t, "o2", proposals[1].ToID)
}

func TestPatternStrategyFirstOrganizationWins(t *testing.T) {
	entities := []graph.Entity{
		{ID: "r1", Type: "role", Title: "Engineer at Acme"},
		{ID: "o1", Type: "organization", Title: "Acme Labs"},
		{ID: "o2", Type: "organization", Title: "Acme"},
	}
	proposals, err := PatternStrategy{}.Detect(context.Background(), Input{Entities: entities})
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, "o1", proposals[0].ToID)
}

func TestPatternStrategyNeedsBothTypes(t *testing.T) {
	entities := []graph.Entity{{ID: "r1", Type: "role", Title: "CTO at Acme"}}
	proposals, err := PatternStrategy{}.Detect(context.Background(), Input{Entities: entities})
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestPatternStrategyIsDeterministic(t *testing.T) {
	entities := []graph.Entity{
		{ID: "r1", Type: "role", Title: "CTO at Acme"},
		{ID: "r2", Type: "role", Title: "VP, Acme"},
		{ID: "o1", Type: "organization", Title: "Acme"},
	}
	first, err := PatternStrategy{}.Detect(context.Background(), Input{Entities: entities})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := PatternStrategy{}.Detect(context.Background(), Input{Entities: entities})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func semanticEntities() []graph.Entity {
	return []graph.Entity{
		{ID: "p1", Type: "person", Title: "Ada"},
		{ID: "o1", Type: "organization", Title: "Acme"},
	}
}

func TestSemanticStrategy(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "```json\n" + `{"relationships": [
		{"from_entity_id": "e0", "to_entity_id": "e1", "relationship_type": "Works At",
		 "confidence": 0.9, "importance": 1.4, "description": "Ada works at Acme",
		 "start_date": "2021-03-01", "end_date": "2021"},
		{"from_entity_id": "e0", "to_entity_id": "e9", "relationship_type": "knows", "confidence": 0.9},
		{"from_entity_id": "e1", "to_entity_id": "e1", "relationship_type": "knows", "confidence": 0.9}
	]}` + "\n```"}}
	s := &SemanticStrategy{LLM: mock}

	proposals, err := s.Detect(context.Background(), Input{Entities: semanticEntities(), Context: "Ada joined Acme."})
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	p := proposals[0]
	assert.Equal(t, "p1", p.FromID)
	assert.Equal(t, "o1", p.ToID)
	assert.Equal(t, graph.Kind("works_at"), p.Kind)
	assert.Equal(t, 0.9, p.Confidence)
	require.NotNil(t, p.Importance)
	assert.Equal(t, 1.0, *p.Importance)
	require.NotNil(t, p.StartDate)
	assert.Equal(t, "2021-03-01", *p.StartDate)
	assert.Nil(t, p.EndDate, "partial dates from the model are dropped")

	require.Equal(t, 1, mock.CallCount())
	assert.Contains(t, mock.Calls[0], "  e0: Ada (type: person)")
	assert.Contains(t, mock.Calls[0], "  e1: Acme (type: organization)")
	assert.Contains(t, mock.Calls[0], "Ada joined Acme.")
	assert.NotContains(t, mock.Calls[0], "p1")
}

func TestSemanticStrategyDefaultConfidence(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: `[{"from_entity_id": "e1", "to_entity_id": "e0", "relationship_type": "employs"}]`}}
	proposals, err := (&SemanticStrategy{LLM: mock}).Detect(context.Background(), Input{Entities: semanticEntities()})
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, 0.5, proposals[0].Confidence)
	assert.Nil(t, proposals[0].Importance)
}

func TestSemanticStrategySalvagesTruncatedOutput(t *testing.T) {
	content := `{"relationships": [{"from_entity_id": "e0", "to_entity_id": "e1", "relationship_type": "knows", "confidence": 0.7, "description": "braces } inside strings"}, {"from_entity_id": "e1", "to_ent`
	mock := &llm.MockClient{Response: &llm.Response{Content: content, Truncated: true}}

	proposals, err := (&SemanticStrategy{LLM: mock}).Detect(context.Background(), Input{Entities: semanticEntities()})
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, graph.Kind("knows"), proposals[0].Kind)
	assert.Equal(t, "braces } inside strings", proposals[0].Description)
}

func TestSemanticStrategyMalformedResponse(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "I could not find any relationships."}}
	_, err := (&SemanticStrategy{LLM: mock}).Detect(context.Background(), Input{Entities: semanticEntities()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSemanticStrategyModelError(t *testing.T) {
	mock := &llm.MockClient{Err: errors.New("rate limited")}
	_, err := (&SemanticStrategy{LLM: mock}).Detect(context.Background(), Input{Entities: semanticEntities()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestSemanticStrategySkipsSmallInput(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: `{"relationships": []}`}}
	proposals, err := (&SemanticStrategy{LLM: mock}).Detect(context.Background(), Input{Entities: semanticEntities()[:1]})
	require.NoError(t, err)
	assert.Empty(t, proposals)
	assert.Equal(t, 0, mock.CallCount())
}

func TestSemanticStrategyTruncatesEntityList(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: `{"relationships": []}`}}
	entities := append(semanticEntities(), graph.Entity{ID: "s1", Type: "skill", Title: "Go"})

	_, err := (&SemanticStrategy{LLM: mock, MaxEntities: 2}).Detect(context.Background(), Input{Entities: entities})
	require.NoError(t, err)
	require.Equal(t, 1, mock.CallCount())
	assert.NotContains(t, mock.Calls[0], "e2:")
}

func TestParseRelationshipResponse(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		want     int
		salvaged bool
		wantErr  bool
	}{
		{"envelope", `{"relationships": [{"from_entity_id": "e0", "to_entity_id": "e1", "relationship_type": "knows"}]}`, 1, false, false},
		{"empty", `{"relationships": []}`, 0, false, false},
		{"bare array", `[{"from_entity_id": "e0", "to_entity_id": "e1", "relationship_type": "knows"}]`, 1, false, false},
		{"prose around json", `Here you go: {"relationships": []} hope that helps`, 0, false, false},
		{"fence without close", "```json\n" + `{"relationships": [{"from_entity_id": "e0", "to_entity_id": "e1", "relationship_type": "a"}]}`, 1, false, false},
		{"truncated", `{"relationships": [{"from_entity_id": "e0", "to_entity_id": "e1", "relationship_type": "a"}, {"from`, 1, true, false},
		{"truncated before first record", `{"relationships": [{"from_entity_id": "e0"`, 0, false, true},
		{"no json", `nothing here`, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, salvaged, err := parseRelationshipResponse(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, records, tt.want)
			assert.Equal(t, tt.salvaged, salvaged)
		})
	}
}

func similarityEntities() ([]graph.Entity, *fakeEmbedder) {
	entities := []graph.Entity{
		{ID: "a", Type: "skill", Title: "Go"},
		{ID: "b", Type: "skill", Title: "Golang tooling"},
		{ID: "c", Type: "skill", Title: "Go language"},
		{ID: "d", Type: "person", Title: "Ada"},
	}
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"Go":             {1, 0, 0},
		"Golang tooling": {0.8, 0.6, 0},
		"Go language":    {1, 0, 0},
		"Ada":            {0, 1, 0},
	}}
	return entities, emb
}

func TestSimilarityStrategy(t *testing.T) {
	entities, emb := similarityEntities()
	s := &SimilarityStrategy{Embedder: emb}

	proposals, err := s.Detect(context.Background(), Input{Entities: entities})
	require.NoError(t, err)
	require.Len(t, proposals, 2, "a-c is a same-type near duplicate and b-d is below threshold")

	assert.Equal(t, "a", proposals[0].FromID)
	assert.Equal(t, "b", proposals[0].ToID)
	assert.Equal(t, graph.KindSemanticallyRelated, proposals[0].Kind)
	assert.InDelta(t, 0.8, proposals[0].Confidence, 1e-9)
	assert.Equal(t, 0.6, *proposals[0].Importance)
	assert.Equal(t, "Semantically similar (score: 0.80)", proposals[0].Description)

	assert.Equal(t, "b", proposals[1].FromID)
	assert.Equal(t, "c", proposals[1].ToID)
}

func TestSimilarityStrategyUsesCache(t *testing.T) {
	db := testDB(t)
	entities, emb := similarityEntities()
	s := &SimilarityStrategy{Embedder: emb, Cache: db}
	ctx := context.Background()

	_, err := s.Detect(ctx, Input{Entities: entities})
	require.NoError(t, err)
	assert.Equal(t, 4, emb.embedCount())

	_, err = s.Detect(ctx, Input{Entities: entities})
	require.NoError(t, err)
	assert.Equal(t, 4, emb.embedCount(), "second run should be served from the cache")

	entities[3].Title = "Ada Lovelace"
	_, err = s.Detect(ctx, Input{Entities: entities})
	require.NoError(t, err)
	assert.Equal(t, 5, emb.embedCount(), "changed text must be re-embedded")
}

func TestSimilarityStrategyWithoutEmbedder(t *testing.T) {
	entities, _ := similarityEntities()
	_, err := (&SimilarityStrategy{}).Detect(context.Background(), Input{Entities: entities})
	assert.Error(t, err)
}

func TestTemporalStrategy(t *testing.T) {
	entities := []graph.Entity{
		{ID: "a", Type: "role", Title: "A", Metadata: graph.Metadata{"start_date": "2020-01", "end_date": "2022-12"}},
		{ID: "b", Type: "project", Title: "B", Metadata: graph.Metadata{"start_date": "2021-06-01"}},
		{ID: "c", Type: "project", Title: "C", Metadata: graph.Metadata{"start_date": "2023"}},
		{ID: "d", Type: "project", Title: "D", Metadata: graph.Metadata{"start_date": "someday"}},
		{ID: "e", Type: "person", Title: "E"},
	}

	proposals, err := TemporalStrategy{}.Detect(context.Background(), Input{Entities: entities})
	require.NoError(t, err)
	require.Len(t, proposals, 2)

	ab := proposals[0]
	assert.Equal(t, "a", ab.FromID)
	assert.Equal(t, "b", ab.ToID)
	assert.Equal(t, graph.KindTemporalOverlap, ab.Kind)
	assert.Equal(t, 0.8, ab.Confidence)
	assert.Equal(t, 0.5, *ab.Importance)
	assert.Equal(t, "2021-06-01", *ab.StartDate)
	assert.Equal(t, "2022-12-01", *ab.EndDate)
	assert.Equal(t, "Co-occurred during 2021-06-01 to 2022-12-01", ab.Description)
	assert.Equal(t, 548, ab.Metadata.Int("overlap_days"))

	bc := proposals[1]
	assert.Equal(t, "b", bc.FromID)
	assert.Equal(t, "c", bc.ToID)
	assert.Nil(t, bc.EndDate, "an open-ended overlap has no end date")
	assert.Equal(t, "Co-occurred during from 2023-01-01 onwards", bc.Description)
}

func TestTemporalConfidenceTiers(t *testing.T) {
	day := func(s string) period {
		ts, _ := parseDate(s)
		return period{start: ts, parsed: true}
	}
	tests := []struct {
		startA, endA, startB, endB string
		want                       float64
	}{
		{"2020-01-01", "2020-02-01", "2020-01-15", "2020-03-01", 0.6},
		{"2020-01-01", "2020-06-01", "2020-01-01", "2020-12-01", 0.7},
		{"2018-01-01", "2021-01-01", "2019-01-01", "2022-01-01", 0.8},
	}
	for _, tt := range tests {
		a, b := day(tt.startA), day(tt.startB)
		a.end = day(tt.endA).start
		b.end = day(tt.endB).start
		assert.Equal(t, tt.want, overlapProposal(a, b).Confidence, "%s..%s vs %s..%s", tt.startA, tt.endA, tt.startB, tt.endB)
	}
}

func TestTopologyStrategy(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, e := range []*graph.Edge{
		{FromID: "a", ToID: "b", Kind: "knows", Confidence: 0.8, Weight: 1},
		{FromID: "b", ToID: "c", Kind: "works_with", Confidence: 0.8, Weight: 1},
		{FromID: "b", ToID: "d", Kind: "knows", Confidence: 0.8, Weight: 1},
		{FromID: "a", ToID: "d", Kind: "knows", Confidence: 0.8, Weight: 1},
		{FromID: "c", ToID: "a", Kind: "knows", Confidence: 0.8, Weight: 1},
	} {
		require.NoError(t, db.CreateEdge(ctx, e))
	}

	ids := []string{"a", "b", "c", "d"}
	entities := make([]graph.Entity, len(ids))
	for i, id := range ids {
		entities[i] = graph.Entity{ID: id, Type: "person", Title: strings.ToUpper(id)}
	}

	proposals, err := (&TopologyStrategy{Graph: db}).Detect(ctx, Input{Entities: entities})
	require.NoError(t, err)

	got := map[string]graph.Proposal{}
	for _, p := range proposals {
		got[p.FromID+">"+p.ToID] = p
	}
	// Expected: a>c via b, b>a via c, c>b and c>d via a.
	require.Contains(t, got, "a>c")
	ac := got["a>c"]
	assert.Equal(t, graph.KindInferredConnection, ac.Kind)
	assert.Equal(t, 0.5, ac.Confidence)
	assert.Equal(t, 0.4, *ac.Importance)
	assert.Equal(t, "Inferred via b...", ac.Description)
	assert.Equal(t, "b", ac.Metadata.String("intermediate_entity_id"))
	assert.Equal(t, "knows", ac.Metadata.String("first_edge_kind"))
	assert.Equal(t, "works_with", ac.Metadata.String("second_edge_kind"))

	assert.NotContains(t, got, "a>d", "direct edges are never inferred")
	assert.NotContains(t, got, "a>a")
	for key := range got {
		parts := strings.Split(key, ">")
		assert.NotEqual(t, parts[0], parts[1])
	}
	assert.Len(t, proposals, 4)
	assert.Len(t, got, 4, "each pair is proposed at most once")
}

func TestTopologyStrategyNeedsThreeEntities(t *testing.T) {
	proposals, err := (&TopologyStrategy{}).Detect(context.Background(), Input{Entities: semanticEntities()})
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestFilterByConfidence(t *testing.T) {
	proposals := []graph.Proposal{
		{FromID: "a", ToID: "b", Kind: "x", Confidence: 0.49},
		{FromID: "a", ToID: "c", Kind: "x", Confidence: 0.5},
		{FromID: "a", ToID: "d", Kind: "x", Confidence: 0.9},
		{FromID: "a", ToID: "e", Kind: "x", Confidence: 0.1},
	}
	kept := FilterByConfidence(proposals, 0.5)
	require.Len(t, kept, 2)
	assert.Equal(t, "c", kept[0].ToID)
	assert.Equal(t, "d", kept[1].ToID)
	for _, p := range kept {
		assert.GreaterOrEqual(t, p.Confidence, 0.5)
	}
}

func TestDropMalformed(t *testing.T) {
	proposals := []graph.Proposal{
		{FromID: "a", ToID: "b", Kind: "knows", Confidence: 0.8},
		{FromID: "a", ToID: "a", Kind: "knows", Confidence: 0.8},
		{FromID: "", ToID: "b", Kind: "knows", Confidence: 0.8},
		{FromID: "a", ToID: "b", Kind: "Not Normal", Confidence: 0.8},
		{FromID: "a", ToID: "b", Kind: "knows", Confidence: 1.2},
		{FromID: "a", ToID: "b", Kind: "knows", Confidence: 0.8, Importance: graph.Float(-0.1)},
	}
	kept := dropMalformed("test", proposals)
	require.Len(t, kept, 1)
	assert.Equal(t, "b", kept[0].ToID)
}

func TestPatternStrategyMatchesAtInsideWords(t *testing.T) {
	entities := []graph.Entity{
		{ID: "r1", Type: "role", Title: "Head of Format Studio"},
		{ID: "o1", Type: "organization", Title: "Studio"},
	}
	proposals, err := PatternStrategy{}.Detect(context.Background(), Input{Entities: entities})
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, "o1", proposals[0].ToID)
}

func TestTemporalStrategyNestedPeriod(t *testing.T) {
	entities := []graph.Entity{
		{ID: "a", Type: "role", Title: "A", Metadata: graph.Metadata{"start_date": "2020-01-01", "end_date": "2022-12-31"}},
		{ID: "b", Type: "project", Title: "B", Metadata: graph.Metadata{"start_date": "2021-06-01", "end_date": "2021-12-31"}},
	}

	proposals, err := TemporalStrategy{}.Detect(context.Background(), Input{Entities: entities})
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	p := proposals[0]
	assert.Equal(t, "a", p.FromID)
	assert.Equal(t, "b", p.ToID)
	assert.Equal(t, 213, p.Metadata.Int("overlap_days"))
	assert.Equal(t, 0.7, p.Confidence)
	require.NotNil(t, p.StartDate)
	require.NotNil(t, p.EndDate)
	assert.Equal(t, "2021-06-01", *p.StartDate, "the window is the inner period")
	assert.Equal(t, "2021-12-31", *p.EndDate)
	assert.Equal(t, "Co-occurred during 2021-06-01 to 2021-12-31", p.Description)
}
