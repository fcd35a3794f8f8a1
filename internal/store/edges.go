package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lazypower/synapse/internal/graph"
)

// ErrDuplicateTriple is returned by CreateEdge when an edge with the same
// (from_id, to_id, kind) already exists.
var ErrDuplicateTriple = errors.New("edge already exists for triple")

const edgeColumns = `id, from_id, to_id, kind, confidence, importance, weight, last_reinforced_at,
	start_date, end_date, description, metadata, source_event_id, created_at, updated_at`

// EdgeFilter narrows ListEdges. Zero values match everything.
type EdgeFilter struct {
	EntityID string // matches either endpoint
	Kind     graph.Kind
	Limit    int
}

// EdgeByTriple returns the edge for a triple, or nil if none exists.
func (db *DB) EdgeByTriple(ctx context.Context, t graph.Triple) (*graph.Edge, error) {
	return edgeByTriple(ctx, db.DB, t)
}

// CreateEdge inserts a new edge. ID and timestamps are filled in when empty.
func (db *DB) CreateEdge(ctx context.Context, e *graph.Edge) error {
	return createEdge(ctx, db.DB, e)
}

// UpdateEdge persists the mutable fields of an existing edge.
func (db *DB) UpdateEdge(ctx context.Context, e *graph.Edge) error {
	return updateEdge(ctx, db.DB, e)
}

// EdgeByTriple returns the edge for a triple inside the transaction, or nil.
func (t *Tx) EdgeByTriple(ctx context.Context, tr graph.Triple) (*graph.Edge, error) {
	return edgeByTriple(ctx, t.tx, tr)
}

// CreateEdge inserts a new edge inside the transaction.
func (t *Tx) CreateEdge(ctx context.Context, e *graph.Edge) error {
	return createEdge(ctx, t.tx, e)
}

// UpdateEdge updates an edge inside the transaction.
func (t *Tx) UpdateEdge(ctx context.Context, e *graph.Edge) error {
	return updateEdge(ctx, t.tx, e)
}

func edgeByTriple(ctx context.Context, q querier, t graph.Triple) (*graph.Edge, error) {
	row := q.QueryRowContext(ctx, `SELECT `+edgeColumns+`
		FROM edges WHERE from_id = ? AND to_id = ? AND kind = ?`,
		t.FromID, t.ToID, string(t.Kind))
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get edge %s: %w", t, err)
	}
	return e, nil
}

func createEdge(ctx context.Context, q querier, e *graph.Edge) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("create edge: invalid kind %q", e.Kind)
	}
	now := time.Now()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastReinforcedAt.IsZero() {
		e.LastReinforcedAt = now
	}
	e.UpdatedAt = now
	if e.Metadata == nil {
		e.Metadata = graph.Metadata{}
	}

	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal edge metadata: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO edges (`+edgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.FromID, e.ToID, string(e.Kind), e.Confidence, e.Importance, e.Weight,
		e.LastReinforcedAt.UnixMilli(), e.StartDate, e.EndDate, nullString(e.Description),
		string(meta), nullString(e.SourceEventID), e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create edge %s: %w", e.Triple(), ErrDuplicateTriple)
		}
		return fmt.Errorf("create edge %s: %w", e.Triple(), err)
	}
	return nil
}

func updateEdge(ctx context.Context, q querier, e *graph.Edge) error {
	e.UpdatedAt = time.Now()
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal edge metadata: %w", err)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE edges SET
			confidence = ?, importance = ?, weight = ?, last_reinforced_at = ?,
			start_date = ?, end_date = ?, description = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, e.Confidence, e.Importance, e.Weight, e.LastReinforcedAt.UnixMilli(),
		e.StartDate, e.EndDate, nullString(e.Description), string(meta), e.UpdatedAt.UnixMilli(),
		e.ID)
	if err != nil {
		return fmt.Errorf("update edge %s: %w", e.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("update edge %s: not found", e.ID)
	}
	return nil
}

// DecayEdges multiplies every edge weight by factor and returns the number
// of edges touched.
func (db *DB) DecayEdges(ctx context.Context, factor float64) (int64, error) {
	result, err := db.ExecContext(ctx, `UPDATE edges SET weight = weight * ?`, factor)
	if err != nil {
		return 0, fmt.Errorf("decay edges: %w", err)
	}
	return result.RowsAffected()
}

// DeleteEdgesBelowWeight removes every edge whose weight is strictly below
// threshold and returns the count deleted.
func (db *DB) DeleteEdgesBelowWeight(ctx context.Context, threshold float64) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM edges WHERE weight < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("prune edges: %w", err)
	}
	return result.RowsAffected()
}

// AllEdges returns every edge ordered by creation time.
func (db *DB) AllEdges(ctx context.Context) ([]graph.Edge, error) {
	return db.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges ORDER BY created_at, id`)
}

// OutgoingEdges returns the edges leaving an entity.
func (db *DB) OutgoingEdges(ctx context.Context, entityID string) ([]graph.Edge, error) {
	return db.queryEdges(ctx, `SELECT `+edgeColumns+`
		FROM edges WHERE from_id = ? ORDER BY created_at, id`, entityID)
}

// ListEdges returns edges matching the filter, heaviest first.
func (db *DB) ListEdges(ctx context.Context, f EdgeFilter) ([]graph.Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges WHERE 1=1`
	var args []any
	if f.EntityID != "" {
		query += ` AND (from_id = ? OR to_id = ?)`
		args = append(args, f.EntityID, f.EntityID)
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	query += ` ORDER BY weight DESC, created_at`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return db.queryEdges(ctx, query, args...)
}

// KindCounts returns the number of edges per kind.
func (db *DB) KindCounts(ctx context.Context) (map[graph.Kind]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM edges GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("kind counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[graph.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		counts[graph.Kind(kind)] = n
	}
	return counts, rows.Err()
}

func (db *DB) queryEdges(ctx context.Context, query string, args ...any) ([]graph.Edge, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEdge(s scanner) (*graph.Edge, error) {
	var (
		e                                 graph.Edge
		kind, meta                        string
		importance                        sql.NullFloat64
		startDate, endDate, desc, eventID sql.NullString
		lastReinforced, created, updated  int64
	)
	if err := s.Scan(&e.ID, &e.FromID, &e.ToID, &kind, &e.Confidence, &importance, &e.Weight,
		&lastReinforced, &startDate, &endDate, &desc, &meta, &eventID, &created, &updated); err != nil {
		return nil, err
	}
	e.Kind = graph.Kind(kind)
	if importance.Valid {
		e.Importance = graph.Float(importance.Float64)
	}
	if startDate.Valid {
		e.StartDate = graph.Str(startDate.String)
	}
	if endDate.Valid {
		e.EndDate = graph.Str(endDate.String)
	}
	e.Description = desc.String
	e.SourceEventID = eventID.String
	e.LastReinforcedAt = time.UnixMilli(lastReinforced)
	e.CreatedAt = time.UnixMilli(created)
	e.UpdatedAt = time.UnixMilli(updated)

	e.Metadata = graph.Metadata{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for edge %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
