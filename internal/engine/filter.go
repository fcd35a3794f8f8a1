package engine

import (
	"log"
	"math"

	"github.com/lazypower/synapse/internal/graph"
)

// FilterByConfidence returns the proposals with confidence >= min, in their
// original order.
func FilterByConfidence(proposals []graph.Proposal, min float64) []graph.Proposal {
	kept := make([]graph.Proposal, 0, len(proposals))
	for _, p := range proposals {
		if p.Confidence >= min {
			kept = append(kept, p)
		}
	}
	if dropped := len(proposals) - len(kept); dropped > 0 {
		proposalsFilteredTotal.WithLabelValues("low_confidence").Add(float64(dropped))
		log.Printf("filter: dropped %d of %d proposals below confidence %.2f", dropped, len(proposals), min)
	}
	return kept
}

// dropMalformed removes proposals that could never be stored: self-loops,
// missing endpoints, invalid kinds and out-of-range scores.
func dropMalformed(strategy string, proposals []graph.Proposal) []graph.Proposal {
	kept := make([]graph.Proposal, 0, len(proposals))
	for _, p := range proposals {
		switch {
		case p.FromID == "" || p.ToID == "":
		case p.FromID == p.ToID:
		case !p.Kind.Valid():
		case math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1:
		case p.Importance != nil && (math.IsNaN(*p.Importance) || *p.Importance < 0 || *p.Importance > 1):
		default:
			kept = append(kept, p)
			continue
		}
		proposalsFilteredTotal.WithLabelValues("malformed").Inc()
	}
	if dropped := len(proposals) - len(kept); dropped > 0 {
		log.Printf("filter: dropped %d malformed proposals from %s", dropped, strategy)
	}
	return kept
}
