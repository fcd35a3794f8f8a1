package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the relationship type of an edge. The vocabulary is open: the
// semantic strategy may invent new kinds, so Kind is validated for shape
// only and the registry below documents the values seen so far.
type Kind string

// Kinds produced by the built-in strategies.
const (
	KindRoleAt              Kind = "role_at"
	KindSemanticallyRelated Kind = "semantically_related"
	KindTemporalOverlap     Kind = "temporal_overlap"
	KindInferredConnection  Kind = "inferred_connection"
)

const maxKindLen = 64

// knownKinds is the living registry of relationship kinds. Unknown kinds are
// still valid; the registry exists for documentation and the /api/kinds listing.
var knownKinds = map[Kind]string{
	KindRoleAt:              "a role is held at an organization",
	KindSemanticallyRelated: "entity texts are close in embedding space",
	KindTemporalOverlap:     "entity time ranges intersect",
	KindInferredConnection:  "two entities share a two-hop path",
	"works_at":              "a person works at an organization",
	"member_of":             "membership in a group or organization",
	"has_skill":             "a person or role exercises a skill",
	"part_of":               "component or sub-project relationship",
	"supports":              "one entity advances a goal or project",
	"inspired_by":           "one entity was influenced by another",
	"contradicts":           "two entities are in tension",
	"relates_to":            "generic association",
}

// ParseKind normalizes free text into a Kind: lowercase, [a-z0-9_] only,
// runs of separators collapsed to a single underscore.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty relationship kind")
	}

	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == '-' || r == ' ' || r == '.' || r == '/':
			if !prevUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}

	k := strings.Trim(b.String(), "_")
	if k == "" {
		return "", fmt.Errorf("relationship kind %q has no valid characters", s)
	}
	if len(k) > maxKindLen {
		k = strings.TrimRight(k[:maxKindLen], "_")
	}
	return Kind(k), nil
}

// Valid reports whether k is already in normalized form.
func (k Kind) Valid() bool {
	n, err := ParseKind(string(k))
	return err == nil && n == k
}

// Known reports whether k is in the registry.
func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

func (k Kind) String() string { return string(k) }

// RegisteredKind is a registry entry.
type RegisteredKind struct {
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
}

// RegisteredKinds returns the registry sorted by kind.
func RegisteredKinds() []RegisteredKind {
	out := make([]RegisteredKind, 0, len(knownKinds))
	for k, d := range knownKinds {
		out = append(out, RegisteredKind{Kind: k, Description: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
