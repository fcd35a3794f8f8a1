package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/store"
)

const fixture = `
events:
  - id: ev-1
    content: Started as CTO at Acme Corp.
entities:
  - id: r1
    type: role
    title: CTO at Acme Corp
    source_event_id: ev-1
  - id: o1
    type: organization
    title: Acme Corp
    source_event_id: ev-1
  - id: p1
    type: project
    title: Apollo
    metadata:
      start_date: 2020-01-01
      end_date: "2021-12-31"
`

func TestLoadSeed(t *testing.T) {
	seed, err := loadSeed(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("loadSeed: %v", err)
	}
	if len(seed.Events) != 1 || seed.Events[0].ID != "ev-1" {
		t.Errorf("events = %+v", seed.Events)
	}
	if len(seed.Entities) != 3 {
		t.Fatalf("entities = %d, want 3", len(seed.Entities))
	}
	p1 := seed.Entities[2]
	if got := p1.Metadata.String(graph.MetaStartDate); got != "2020-01-01" {
		t.Errorf("start_date = %q, want 2020-01-01", got)
	}
	if got := p1.Metadata.String(graph.MetaEndDate); got != "2021-12-31" {
		t.Errorf("end_date = %q, want 2021-12-31", got)
	}
}

func TestLoadSeedRequiresIDAndType(t *testing.T) {
	_, err := loadSeed(strings.NewReader("entities:\n  - title: nameless\n"))
	if err == nil {
		t.Fatal("expected error for entity without id")
	}
}

func TestLoadSeedEmpty(t *testing.T) {
	seed, err := loadSeed(strings.NewReader(""))
	if err != nil {
		t.Fatalf("loadSeed: %v", err)
	}
	if len(seed.Entities) != 0 || len(seed.Events) != 0 {
		t.Errorf("seed = %+v", seed)
	}
}

func TestApplySeed(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	seed, err := loadSeed(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("loadSeed: %v", err)
	}
	ctx := context.Background()
	if err := applySeed(ctx, db, seed); err != nil {
		t.Fatalf("applySeed: %v", err)
	}

	text, err := db.EventText(ctx, "ev-1")
	if err != nil {
		t.Fatalf("EventText: %v", err)
	}
	if text != "Started as CTO at Acme Corp." {
		t.Errorf("event text = %q", text)
	}

	entities, err := db.EntitiesByEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("EntitiesByEvent: %v", err)
	}
	if len(entities) != 2 {
		t.Errorf("entities for ev-1 = %d, want 2", len(entities))
	}

	// Seeding twice replaces rather than duplicates.
	if err := applySeed(ctx, db, seed); err != nil {
		t.Fatalf("second applySeed: %v", err)
	}
	all, err := db.AllEntities(ctx)
	if err != nil {
		t.Fatalf("AllEntities: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("entities = %d, want 3", len(all))
	}
}
