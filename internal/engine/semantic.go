package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/llm"
)

// SemanticStrategy asks the language model to infer relationships of any
// kind among a small set of entities.
type SemanticStrategy struct {
	LLM         llm.Client
	MaxEntities int // entities per prompt; extras are dropped
}

func (s *SemanticStrategy) Name() string { return StrategySemantic }

func (s *SemanticStrategy) Detect(ctx context.Context, in Input) ([]graph.Proposal, error) {
	entities := in.Entities
	if len(entities) < 2 {
		return nil, nil
	}
	if s.LLM == nil {
		return nil, fmt.Errorf("no language model configured")
	}

	limit := s.MaxEntities
	if limit <= 0 {
		limit = 20
	}
	if len(entities) > limit {
		log.Printf("semantic: truncating entity list from %d to %d", len(entities), limit)
		entities = entities[:limit]
	}

	// Short aliases keep the prompt small and stop the model from mangling ids.
	aliases := make(map[string]string, len(entities))
	var lines strings.Builder
	for i, e := range entities {
		alias := fmt.Sprintf("e%d", i)
		aliases[alias] = e.ID
		fmt.Fprintf(&lines, "  %s: %s (type: %s)\n", alias, e.Title, e.Type)
	}

	prompt := llm.RelationshipPrompt(strings.TrimRight(lines.String(), "\n"), truncateClean(in.Context, maxContextChars))
	resp, err := s.LLM.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	records, salvaged, err := parseRelationshipResponse(resp.Content)
	if err != nil {
		log.Printf("semantic: unparseable response: %.500s", resp.Content)
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if salvaged {
		log.Printf("semantic: response was truncated, salvaged %d relationships", len(records))
	}

	proposals, unresolved, invalid := recordsToProposals(records, aliases)
	if unresolved > 0 || invalid > 0 {
		log.Printf("semantic: dropped %d relationships with unknown aliases, %d with unusable types", unresolved, invalid)
	}
	log.Printf("semantic: %d proposals from %d entities", len(proposals), len(entities))
	return proposals, nil
}

// relationshipRecord is one relationship as the model reports it.
type relationshipRecord struct {
	From        string   `json:"from_entity_id"`
	To          string   `json:"to_entity_id"`
	Type        string   `json:"relationship_type"`
	Confidence  *float64 `json:"confidence"`
	Importance  *float64 `json:"importance"`
	Description string   `json:"description"`
	StartDate   *string  `json:"start_date"`
	EndDate     *string  `json:"end_date"`
}

type relationshipEnvelope struct {
	Relationships []relationshipRecord `json:"relationships"`
}

// parseRelationshipResponse decodes the model output. Markdown fences are
// stripped. If the output was cut off, everything after the last complete
// relationship is dropped and the structure is re-closed; salvaged reports
// whether that happened.
func parseRelationshipResponse(content string) (records []relationshipRecord, salvaged bool, err error) {
	content = stripCodeFence(content)

	// Some models answer with the bare array.
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &records); err == nil {
			return records, false, nil
		}
	}

	start := strings.Index(content, "{")
	if start < 0 {
		return nil, false, fmt.Errorf("no JSON object found in response")
	}
	body := content[start:]

	if end := strings.LastIndex(body, "}"); end >= 0 {
		var env relationshipEnvelope
		if err := json.Unmarshal([]byte(body[:end+1]), &env); err == nil {
			return env.Relationships, false, nil
		}
	}

	cut := lastCompleteRecordEnd(body)
	if cut < 0 {
		return nil, false, fmt.Errorf("no complete relationship in truncated response")
	}
	var env relationshipEnvelope
	if err := json.Unmarshal([]byte(body[:cut+1]+"]}"), &env); err != nil {
		return nil, false, fmt.Errorf("salvage truncated response: %w", err)
	}
	return env.Relationships, true, nil
}

// stripCodeFence removes a surrounding ``` fence. The closing fence may be
// missing when the output was truncated.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// lastCompleteRecordEnd returns the index of the '}' closing the last
// complete element of the relationships array in {"relationships":[{...},...
// or -1 if there is none.
func lastCompleteRecordEnd(s string) int {
	depth := 0
	inString, escaped := false, false
	last := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if c == '}' && depth == 2 {
				last = i
			}
		}
	}
	return last
}

// recordsToProposals maps aliases back to entity ids and normalizes the
// model's values. Records naming an unknown alias or an unusable type are
// dropped and counted.
func recordsToProposals(records []relationshipRecord, aliases map[string]string) (proposals []graph.Proposal, unresolved, invalid int) {
	for _, r := range records {
		from, okFrom := aliases[strings.ToLower(strings.TrimSpace(r.From))]
		to, okTo := aliases[strings.ToLower(strings.TrimSpace(r.To))]
		if !okFrom || !okTo {
			unresolved++
			continue
		}
		kind, err := graph.ParseKind(r.Type)
		if err != nil || from == to {
			invalid++
			continue
		}

		confidence := 0.5
		if r.Confidence != nil {
			confidence = clampUnit(*r.Confidence)
		}
		p := graph.Proposal{
			FromID:      from,
			ToID:        to,
			Kind:        kind,
			Confidence:  confidence,
			Description: truncateClean(strings.TrimSpace(r.Description), maxDescriptionChars),
			StartDate:   graph.Str(normalizeDate(r.StartDate)),
			EndDate:     graph.Str(normalizeDate(r.EndDate)),
			Metadata:    graph.Metadata{},
		}
		if r.Importance != nil {
			p.Importance = graph.Float(clampUnit(*r.Importance))
		}
		proposals = append(proposals, p)
	}
	return proposals, unresolved, invalid
}
