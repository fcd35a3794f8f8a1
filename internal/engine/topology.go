package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/lazypower/synapse/internal/graph"
)

// TopologyStrategy proposes inferred_connection edges across two-hop paths
// A -> B -> C where A and C are not yet directly connected.
type TopologyStrategy struct {
	Graph GraphReader
}

func (s *TopologyStrategy) Name() string { return StrategyTopology }

type pairKey struct{ from, to string }

func (s *TopologyStrategy) Detect(ctx context.Context, in Input) ([]graph.Proposal, error) {
	ids := in.IDs()
	if len(ids) < 3 {
		return nil, nil
	}
	if s.Graph == nil {
		return nil, fmt.Errorf("no graph reader configured")
	}

	// Both maps live for this call only.
	visited := make(map[pairKey]struct{})
	outgoing := make(map[string][]graph.Edge)
	edgesFrom := func(id string) ([]graph.Edge, error) {
		if edges, ok := outgoing[id]; ok {
			return edges, nil
		}
		edges, err := s.Graph.OutgoingEdges(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("outgoing edges of %s: %w", id, err)
		}
		outgoing[id] = edges
		return edges, nil
	}

	var proposals []graph.Proposal
	for _, origin := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		first, err := edgesFrom(origin)
		if err != nil {
			return nil, err
		}
		direct := make(map[string]bool, len(first))
		for _, e := range first {
			direct[e.ToID] = true
		}

		for _, e1 := range first {
			mid := e1.ToID
			second, err := edgesFrom(mid)
			if err != nil {
				return nil, err
			}
			for _, e2 := range second {
				target := e2.ToID
				if target == origin {
					continue
				}
				key := pairKey{origin, target}
				if _, seen := visited[key]; seen {
					continue
				}
				visited[key] = struct{}{}

				if direct[target] {
					continue
				}
				existing, err := s.Graph.EdgeByTriple(ctx, graph.Triple{FromID: origin, ToID: target, Kind: graph.KindInferredConnection})
				if err != nil {
					return nil, fmt.Errorf("check inferred edge: %w", err)
				}
				if existing != nil {
					continue
				}

				proposals = append(proposals, graph.Proposal{
					FromID:      origin,
					ToID:        target,
					Kind:        graph.KindInferredConnection,
					Confidence:  0.5,
					Importance:  graph.Float(0.4),
					Description: "Inferred via " + shortID(mid) + "...",
					Metadata: graph.Metadata{
						"intermediate_entity_id": mid,
						"first_edge_kind":        string(e1.Kind),
						"second_edge_kind":       string(e2.Kind),
					},
				})
			}
		}
	}

	log.Printf("topology: %d proposals from %d entities", len(proposals), len(ids))
	return proposals, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
