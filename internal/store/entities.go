package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/synapse/internal/graph"
)

const entityColumns = `id, type, title, summary, metadata, source_event_id, created_at, updated_at`

// CreateEntity inserts or replaces an entity. Entities normally arrive from
// the ingestion pipeline; this is used by seed fixtures and tests.
func (db *DB) CreateEntity(ctx context.Context, e *graph.Entity) error {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.Metadata == nil {
		e.Metadata = graph.Metadata{}
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal entity metadata: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type, title = excluded.title, summary = excluded.summary,
			metadata = excluded.metadata, source_event_id = excluded.source_event_id,
			updated_at = excluded.updated_at
	`, e.ID, e.Type, e.Title, nullString(e.Summary), string(meta), nullString(e.SourceEventID),
		e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create entity %s: %w", e.ID, err)
	}
	return nil
}

// EntityByID returns an entity, or nil if not found.
func (db *DB) EntityByID(ctx context.Context, id string) (*graph.Entity, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// EntitiesByEvent returns the entities extracted from one raw event.
func (db *DB) EntitiesByEvent(ctx context.Context, eventID string) ([]graph.Entity, error) {
	return db.queryEntities(ctx, `SELECT `+entityColumns+`
		FROM entities WHERE source_event_id = ? ORDER BY created_at, id`, eventID)
}

// RecentEntities returns the most recently created entities, newest first.
func (db *DB) RecentEntities(ctx context.Context, limit int) ([]graph.Entity, error) {
	return db.queryEntities(ctx, `SELECT `+entityColumns+`
		FROM entities ORDER BY created_at DESC, id LIMIT ?`, limit)
}

// AllEntities returns every entity ordered by creation time.
func (db *DB) AllEntities(ctx context.Context) ([]graph.Entity, error) {
	return db.queryEntities(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY created_at, id`)
}

// EntitiesSince returns entities created or updated at or after since.
func (db *DB) EntitiesSince(ctx context.Context, since time.Time) ([]graph.Entity, error) {
	ms := since.UnixMilli()
	return db.queryEntities(ctx, `SELECT `+entityColumns+`
		FROM entities WHERE created_at >= ? OR updated_at >= ?
		ORDER BY created_at, id`, ms, ms)
}

// EntitiesByIDs returns the entities for the given ids. Unknown ids are skipped.
func (db *DB) EntitiesByIDs(ctx context.Context, ids []string) ([]graph.Entity, error) {
	var out []graph.Entity
	for _, id := range ids {
		e, err := db.EntityByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

// SaveEvent stores the raw text of an ingestion event.
func (db *DB) SaveEvent(ctx context.Context, id, content string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO raw_events (id, content, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content
	`, id, content, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// EventText returns the raw text of an event, or "" if the event is unknown.
func (db *DB) EventText(ctx context.Context, eventID string) (string, error) {
	var content sql.NullString
	err := db.QueryRowContext(ctx, `SELECT content FROM raw_events WHERE id = ?`, eventID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get event text: %w", err)
	}
	return content.String, nil
}

func (db *DB) queryEntities(ctx context.Context, query string, args ...any) ([]graph.Entity, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []graph.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

func scanEntity(s scanner) (*graph.Entity, error) {
	var (
		e                graph.Entity
		summary, eventID sql.NullString
		meta             string
		created, updated int64
	)
	if err := s.Scan(&e.ID, &e.Type, &e.Title, &summary, &meta, &eventID, &created, &updated); err != nil {
		return nil, err
	}
	e.Summary = summary.String
	e.SourceEventID = eventID.String
	e.CreatedAt = time.UnixMilli(created)
	e.UpdatedAt = time.UnixMilli(updated)
	e.Metadata = graph.Metadata{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for entity %s: %w", e.ID, err)
		}
	}
	return &e, nil
}
