package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run modes as stored in the runs table.
const (
	RunIncremental = "incremental"
	RunNightly     = "nightly"
	RunOnDemand    = "on_demand"
)

// Run is one recorded engine invocation.
type Run struct {
	ID               string `json:"id"`
	Mode             string `json:"mode"`
	Params           string `json:"params,omitempty"`
	Status           string `json:"status"`
	StartedAt        int64  `json:"started_at"`
	EndedAt          *int64 `json:"ended_at,omitempty"`
	EdgesCreated     int    `json:"edges_created"`
	EdgesUpdated     int    `json:"edges_updated"`
	EdgesPruned      int    `json:"edges_pruned"`
	EntitiesAnalyzed int    `json:"entities_analyzed"`
	Error            string `json:"error,omitempty"`
}

// RunCounts are the totals recorded when a run finishes.
type RunCounts struct {
	EdgesCreated     int
	EdgesUpdated     int
	EdgesPruned      int
	EntitiesAnalyzed int
}

// StartRun records a new running run and returns its id.
func (db *DB) StartRun(ctx context.Context, mode, params string) (string, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, params, status, started_at)
		VALUES (?, ?, ?, 'running', ?)
	`, id, mode, nullString(params), time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run completed, or failed when runErr is non-nil.
func (db *DB) FinishRun(ctx context.Context, id string, counts RunCounts, runErr error) error {
	status := "completed"
	var errText sql.NullString
	if runErr != nil {
		status = "failed"
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	result, err := db.ExecContext(ctx, `
		UPDATE runs SET status = ?, ended_at = ?, edges_created = ?, edges_updated = ?,
			edges_pruned = ?, entities_analyzed = ?, error = ?
		WHERE id = ? AND status = 'running'
	`, status, time.Now().UnixMilli(), counts.EdgesCreated, counts.EdgesUpdated,
		counts.EdgesPruned, counts.EntitiesAnalyzed, errText, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("no running run found for %s", id)
	}
	return nil
}

// GetRun returns a run by id, or nil if not found.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// RecentRuns returns the most recent runs, ordered by started_at DESC.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

const runColumns = `id, mode, params, status, started_at, ended_at,
	edges_created, edges_updated, edges_pruned, entities_analyzed, error`

func scanRun(s scanner) (*Run, error) {
	var r Run
	var params, errText sql.NullString
	if err := s.Scan(&r.ID, &r.Mode, &params, &r.Status, &r.StartedAt, &r.EndedAt,
		&r.EdgesCreated, &r.EdgesUpdated, &r.EdgesPruned, &r.EntitiesAnalyzed, &errText); err != nil {
		return nil, err
	}
	r.Params = params.String
	r.Error = errText.String
	return &r, nil
}
