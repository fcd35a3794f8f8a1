package engine

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/lazypower/synapse/internal/graph"
)

// rolePatterns pull an organization name out of a role title, in priority
// order: "CTO at Acme Corp" then "CTO, Acme Corp". A trailing parenthetical
// such as "(2019-2021)" is not part of the name. "at" is not anchored to a
// word boundary, so "Format Studio" yields the candidate "Studio".
var rolePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)at\s+(.+?)(?:\s*\(|$)`),
	regexp.MustCompile(`(?i),\s*(.+?)(?:\s*\(|$)`),
}

// PatternStrategy links roles to the organization named in their title.
// It is deterministic and makes no external calls.
//
// The first pattern that matches a role decides the candidate name, and the
// first organization whose title contains it (or is contained by it) wins.
// When several organizations share a substring the earliest one is chosen.
type PatternStrategy struct{}

func (PatternStrategy) Name() string { return StrategyPattern }

func (PatternStrategy) Detect(ctx context.Context, in Input) ([]graph.Proposal, error) {
	var roles, orgs []graph.Entity
	for _, e := range in.Entities {
		switch e.Type {
		case "role":
			roles = append(roles, e)
		case "organization":
			orgs = append(orgs, e)
		}
	}
	if len(roles) == 0 || len(orgs) == 0 {
		return nil, nil
	}

	var proposals []graph.Proposal
	for _, role := range roles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		org, ok := matchOrganization(role.Title, orgs)
		if !ok {
			continue
		}
		proposals = append(proposals, graph.Proposal{
			FromID:      role.ID,
			ToID:        org.ID,
			Kind:        graph.KindRoleAt,
			Confidence:  0.95,
			Importance:  graph.Float(0.85),
			Description: "Role at " + org.Title,
			Metadata:    graph.Metadata{"pattern_match": "role_at_organization"},
		})
	}

	log.Printf("pattern: %d proposals from %d roles", len(proposals), len(roles))
	return proposals, nil
}

func matchOrganization(roleTitle string, orgs []graph.Entity) (graph.Entity, bool) {
	for _, re := range rolePatterns {
		m := re.FindStringSubmatch(roleTitle)
		if m == nil {
			continue
		}
		candidate := strings.ToLower(strings.TrimSpace(m[1]))
		if candidate == "" {
			return graph.Entity{}, false
		}
		for _, org := range orgs {
			title := strings.ToLower(strings.TrimSpace(org.Title))
			if title == "" {
				continue
			}
			if strings.Contains(title, candidate) || strings.Contains(candidate, title) {
				return org, true
			}
		}
		// Only the first matching pattern is tried.
		return graph.Entity{}, false
	}
	return graph.Entity{}, false
}
