package llm

import "fmt"

// SystemPrompt frames every completion the engine requests.
const SystemPrompt = "You detect relationships between entities in a personal knowledge graph. " +
	"Answer with a single JSON object and nothing else."

// RelationshipPrompt generates the prompt for open-vocabulary relationship
// inference. entityList holds one line per entity, keyed by a short alias
// (e0, e1, ...) that the model must use in its answer.
func RelationshipPrompt(entityList, context string) string {
	contextBlock := ""
	if context != "" {
		contextBlock = fmt.Sprintf("\nCONTEXT:\n%s\n", context)
	}

	return fmt.Sprintf(`You are a relationship detection system for a personal knowledge graph.
Analyze these entities and identify meaningful relationships between them.

ENTITIES:
%s
%s
Relationship types are open-ended. Use whatever short snake_case verb phrase fits best
(e.g. works_at, role_at, member_of, has_skill, part_of, supports, inspired_by,
contradicts, mentored_by, led, founded). Invent a new type when none of these fit.

For each relationship give:
- from_entity_id / to_entity_id: the alias of each entity (e0, e1, ...)
- relationship_type: snake_case type
- confidence: 0.0-1.0, how sure you are the relationship exists
- importance: 0.0-1.0, how significant it is to the person's story
- description: one short sentence
- start_date / end_date: YYYY-MM-DD if the relationship is time-bounded, else null

Rules:
- Only use aliases from the list above
- Skip weak or speculative relationships
- Return ONLY a JSON object, no other text

Return a JSON object:
{"relationships": [{
  "from_entity_id": "e0",
  "to_entity_id": "e1",
  "relationship_type": "works_at",
  "confidence": 0.9,
  "importance": 0.8,
  "description": "...",
  "start_date": null,
  "end_date": null
}]}

If there are no relationships, return: {"relationships": []}`, entityList, contextBlock)
}
