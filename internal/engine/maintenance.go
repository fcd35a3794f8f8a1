package engine

import (
	"context"
	"fmt"
	"log"
)

// Decay multiplies every edge weight by factor. It waits for any running
// reinforcement to finish first, since decay and reinforcement do not commute.
func (e *Engine) Decay(ctx context.Context, factor float64) (int64, error) {
	e.maint.Lock()
	defer e.maint.Unlock()
	return e.decay(ctx, factor)
}

// Prune deletes every edge whose weight is strictly below threshold and
// returns the number deleted.
func (e *Engine) Prune(ctx context.Context, threshold float64) (int64, error) {
	e.maint.Lock()
	defer e.maint.Unlock()
	return e.prune(ctx, threshold)
}

// decay and prune expect the caller to hold e.maint for writing.

func (e *Engine) decay(ctx context.Context, factor float64) (int64, error) {
	if factor <= 0 || factor >= 1 {
		return 0, fmt.Errorf("decay factor must be in (0, 1), got %v", factor)
	}
	n, err := e.DB.DecayEdges(ctx, factor)
	if err != nil {
		return 0, err
	}
	log.Printf("decay: scaled %d edges by %.3f", n, factor)
	return n, nil
}

func (e *Engine) prune(ctx context.Context, threshold float64) (int64, error) {
	n, err := e.DB.DeleteEdgesBelowWeight(ctx, threshold)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		edgesPrunedTotal.Add(float64(n))
		log.Printf("prune: deleted %d edges below weight %.3f", n, threshold)
	}
	return n, nil
}
