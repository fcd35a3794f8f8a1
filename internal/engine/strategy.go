package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lazypower/synapse/internal/graph"
)

// Strategy names, recorded on every edge they produce.
const (
	StrategyPattern    = "pattern_based"
	StrategySemantic   = "semantic_llm"
	StrategySimilarity = "embedding_similarity"
	StrategyTemporal   = "temporal"
	StrategyTopology   = "graph_topology"
)

// Strategy detects candidate edges among a set of entities. Strategies
// never write to the graph.
type Strategy interface {
	Name() string
	Detect(ctx context.Context, in Input) ([]graph.Proposal, error)
}

// Input is what a strategy sees for one run.
type Input struct {
	Entities []graph.Entity
	Context  string // free text the entities were extracted from, may be empty
}

// IDs returns the entity ids in input order.
func (in Input) IDs() []string {
	ids := make([]string, len(in.Entities))
	for i, e := range in.Entities {
		ids[i] = e.ID
	}
	return ids
}

// GraphReader is the read side of the edge store used by topology detection.
type GraphReader interface {
	OutgoingEdges(ctx context.Context, entityID string) ([]graph.Edge, error)
	EdgeByTriple(ctx context.Context, t graph.Triple) (*graph.Edge, error)
}

// outcome is the result of running one strategy: proposals or an error,
// never both.
type outcome struct {
	Strategy  string
	Proposals []graph.Proposal
	Err       error
	Elapsed   time.Duration
}

// runStrategy executes s and converts errors and panics into an outcome so
// one strategy can never take down the run.
func runStrategy(ctx context.Context, s Strategy, in Input) (out outcome) {
	out.Strategy = s.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.Proposals = nil
			out.Err = &StrategyError{Strategy: s.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
		out.Elapsed = time.Since(start)
		strategyDuration.WithLabelValues(out.Strategy).Observe(out.Elapsed.Seconds())
		if out.Err != nil {
			strategyFailuresTotal.WithLabelValues(out.Strategy).Inc()
			log.Printf("engine: %v", out.Err)
		}
	}()

	proposals, err := s.Detect(ctx, in)
	if err != nil {
		out.Err = &StrategyError{Strategy: s.Name(), Err: err}
		return out
	}
	out.Proposals = proposals
	return out
}
