package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/store"
)

// VectorCache stores entity embeddings between runs.
type VectorCache interface {
	GetEntityVector(ctx context.Context, entityID string) (*store.VectorRecord, error)
	SaveEntityVector(ctx context.Context, entityID string, embedding []float64, model, textHash string) error
}

// SimilarityStrategy links entities whose embeddings are close.
type SimilarityStrategy struct {
	Embedder Embedder
	Cache    VectorCache // optional

	Threshold          float64 // minimum cosine similarity, default 0.75
	DuplicateThreshold float64 // same-type pairs above this are skipped, default 0.95
}

func (s *SimilarityStrategy) Name() string { return StrategySimilarity }

func (s *SimilarityStrategy) Detect(ctx context.Context, in Input) ([]graph.Proposal, error) {
	entities := in.Entities
	if len(entities) < 2 {
		return nil, nil
	}
	if s.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	threshold := s.Threshold
	if threshold <= 0 {
		threshold = 0.75
	}
	dupThreshold := s.DuplicateThreshold
	if dupThreshold <= 0 {
		dupThreshold = 0.95
	}

	vecs, err := s.vectors(ctx, entities)
	if err != nil {
		return nil, err
	}

	var proposals []graph.Proposal
	skipped := 0
	for i := 0; i < len(entities); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(entities); j++ {
			sim := CosineSimilarity(vecs[i], vecs[j])
			if sim < threshold {
				continue
			}
			a, b := entities[i], entities[j]
			// Near-identical entities of one type are merge candidates, not relationships.
			if a.Type == b.Type && sim > dupThreshold {
				skipped++
				continue
			}
			proposals = append(proposals, graph.Proposal{
				FromID:      a.ID,
				ToID:        b.ID,
				Kind:        graph.KindSemanticallyRelated,
				Confidence:  clampUnit(sim),
				Importance:  graph.Float(0.6),
				Description: fmt.Sprintf("Semantically similar (score: %.2f)", sim),
				Metadata:    graph.Metadata{"embedding_similarity": sim},
			})
		}
	}

	log.Printf("similarity: %d proposals from %d entities (%d likely duplicates skipped)", len(proposals), len(entities), skipped)
	return proposals, nil
}

// vectors returns one embedding per entity, reusing cached vectors whose
// model and text still match and embedding the rest in one batch.
func (s *SimilarityStrategy) vectors(ctx context.Context, entities []graph.Entity) ([][]float64, error) {
	model := s.Embedder.Model()
	vecs := make([][]float64, len(entities))
	hashes := make([]string, len(entities))

	var missing []int
	var texts []string
	for i, e := range entities {
		text := e.Text()
		hashes[i] = textHash(text)
		if s.Cache != nil {
			rec, err := s.Cache.GetEntityVector(ctx, e.ID)
			if err != nil {
				log.Printf("similarity: cache read for %s: %v", e.ID, err)
			} else if rec != nil && rec.Model == model && rec.TextHash == hashes[i] {
				vecs[i] = rec.Embedding
				continue
			}
		}
		missing = append(missing, i)
		texts = append(texts, text)
	}

	if len(missing) == 0 {
		return vecs, nil
	}

	fresh, err := s.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(fresh) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(texts))
	}

	for k, i := range missing {
		vecs[i] = fresh[k]
		if s.Cache != nil {
			if err := s.Cache.SaveEntityVector(ctx, entities[i].ID, fresh[k], model, hashes[i]); err != nil {
				log.Printf("similarity: cache write for %s: %v", entities[i].ID, err)
			}
		}
	}
	if len(missing) < len(entities) {
		log.Printf("similarity: embedded %d entities, %d from cache", len(missing), len(entities)-len(missing))
	}
	return vecs, nil
}
