package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "synapse.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Re-opening must not re-apply migrations.
	db.Close()
	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	v, err := db2.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", v, len(migrations))
	}
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 5 {
		t.Errorf("SchemaVersion = %d, want 5", v)
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"schema_versions", "entities", "raw_events", "edges", "entity_vectors", "runs"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestEdgesConstraints(t *testing.T) {
	db := testDB(t)

	// confidence out of range
	_, err := db.Exec(`INSERT INTO edges (id, from_id, to_id, kind, confidence, last_reinforced_at, created_at, updated_at)
		VALUES ('e1', 'a', 'b', 'x', 1.5, 0, 0, 0)`)
	if err == nil {
		t.Error("expected CHECK failure for confidence > 1")
	}

	// importance out of range
	_, err = db.Exec(`INSERT INTO edges (id, from_id, to_id, kind, confidence, importance, last_reinforced_at, created_at, updated_at)
		VALUES ('e2', 'a', 'b', 'x', 0.5, -0.1, 0, 0, 0)`)
	if err == nil {
		t.Error("expected CHECK failure for importance < 0")
	}

	// bad run mode
	_, err = db.Exec(`INSERT INTO runs (id, mode, started_at) VALUES ('r1', 'weekly', 0)`)
	if err == nil {
		t.Error("expected CHECK failure for unknown run mode")
	}
}
