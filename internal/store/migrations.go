package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "entities: graph nodes written by the ingestion pipeline",
		SQL: `
CREATE TABLE entities (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    title           TEXT NOT NULL,
    summary         TEXT,
    metadata        TEXT NOT NULL DEFAULT '{}',
    source_event_id TEXT,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE INDEX idx_entities_event   ON entities(source_event_id);
CREATE INDEX idx_entities_created ON entities(created_at DESC);
CREATE INDEX idx_entities_updated ON entities(updated_at DESC);
`,
	},
	{
		Version:     2,
		Description: "raw_events: source text for entity extraction",
		SQL: `
CREATE TABLE raw_events (
    id         TEXT PRIMARY KEY,
    content    TEXT,
    created_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "edges: weighted typed relationships, one per (from, to, kind)",
		SQL: `
CREATE TABLE edges (
    id                 TEXT PRIMARY KEY,
    from_id            TEXT NOT NULL,
    to_id              TEXT NOT NULL,
    kind               TEXT NOT NULL,

    confidence         REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
    importance         REAL CHECK (importance IS NULL OR (importance >= 0 AND importance <= 1)),

    -- Reinforcement / decay
    weight             REAL NOT NULL DEFAULT 1.0,
    last_reinforced_at INTEGER NOT NULL,

    start_date         TEXT,
    end_date           TEXT,
    description        TEXT,
    metadata           TEXT NOT NULL DEFAULT '{}',
    source_event_id    TEXT,
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);

CREATE UNIQUE INDEX idx_edges_triple ON edges(from_id, to_id, kind);
CREATE INDEX idx_edges_to            ON edges(to_id);
CREATE INDEX idx_edges_weight        ON edges(weight);
`,
	},
	{
		Version:     4,
		Description: "entity_vectors: cached embeddings for similarity detection",
		SQL: `
CREATE TABLE entity_vectors (
    entity_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    text_hash  TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     5,
		Description: "runs: relationship engine run history",
		SQL: `
CREATE TABLE runs (
    id                TEXT PRIMARY KEY,
    mode              TEXT NOT NULL CHECK (mode IN ('incremental', 'nightly', 'on_demand')),
    params            TEXT,
    status            TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'failed')),
    started_at        INTEGER NOT NULL,
    ended_at          INTEGER,
    edges_created     INTEGER NOT NULL DEFAULT 0,
    edges_updated     INTEGER NOT NULL DEFAULT 0,
    edges_pruned      INTEGER NOT NULL DEFAULT 0,
    entities_analyzed INTEGER NOT NULL DEFAULT 0,
    error             TEXT
);

CREATE INDEX idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX idx_runs_mode       ON runs(mode);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
