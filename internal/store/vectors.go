package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// VectorRecord holds a cached embedding for an entity.
type VectorRecord struct {
	EntityID   string
	Embedding  []float64
	Model      string
	Dimensions int
	TextHash   string
	CreatedAt  int64
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// SaveEntityVector stores or replaces the embedding for an entity. textHash
// identifies the text that was embedded so stale vectors can be detected.
func (db *DB) SaveEntityVector(ctx context.Context, entityID string, embedding []float64, model, textHash string) error {
	blob := encodeEmbedding(embedding)
	_, err := db.ExecContext(ctx, `
		INSERT INTO entity_vectors (entity_id, embedding, model, dimensions, text_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			embedding = excluded.embedding, model = excluded.model, dimensions = excluded.dimensions,
			text_hash = excluded.text_hash, created_at = excluded.created_at
	`, entityID, blob, model, len(embedding), textHash, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save entity vector: %w", err)
	}
	return nil
}

// GetEntityVector returns the cached embedding for an entity, or nil if not found.
func (db *DB) GetEntityVector(ctx context.Context, entityID string) (*VectorRecord, error) {
	var v VectorRecord
	var blob []byte

	err := db.QueryRowContext(ctx, `
		SELECT entity_id, embedding, model, dimensions, text_hash, created_at
		FROM entity_vectors WHERE entity_id = ?
	`, entityID).Scan(&v.EntityID, &blob, &v.Model, &v.Dimensions, &v.TextHash, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity vector: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// VectorCount returns the number of cached entity vectors.
func (db *DB) VectorCount(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_vectors`).Scan(&n)
	return n, err
}
