// Package graph holds the entity, edge and proposal types shared by the
// store and the relationship engine.
package graph

import (
	"strings"
	"time"
)

// Metadata keys with engine-defined meaning.
const (
	MetaReinforcementCount = "reinforcement_count"
	MetaDetectedInEvents   = "detected_in_events"
	MetaSourceStrategy     = "source_strategy"
	MetaSourceEventID      = "source_event_id"
	MetaStartDate          = "start_date"
	MetaEndDate            = "end_date"
)

// Entity is a node in the graph. Entities are owned by the ingestion
// pipeline; the engine only reads them.
type Entity struct {
	ID            string    `json:"id" yaml:"id"`
	Type          string    `json:"type" yaml:"type"`
	Title         string    `json:"title" yaml:"title"`
	Summary       string    `json:"summary,omitempty" yaml:"summary"`
	Metadata      Metadata  `json:"metadata,omitempty" yaml:"metadata"`
	SourceEventID string    `json:"source_event_id,omitempty" yaml:"source_event_id"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

// Text is the string embedded for similarity: the title, plus the summary when present.
func (e Entity) Text() string {
	summary := strings.TrimSpace(e.Summary)
	if summary == "" {
		return e.Title
	}
	return e.Title + ". " + summary
}

// Triple identifies an edge. At most one edge exists per triple.
type Triple struct {
	FromID string
	ToID   string
	Kind   Kind
}

func (t Triple) String() string {
	return t.FromID + " -[" + string(t.Kind) + "]-> " + t.ToID
}

// Edge is a directed, typed, weighted connection between two entities.
type Edge struct {
	ID               string    `json:"id"`
	FromID           string    `json:"from_id"`
	ToID             string    `json:"to_id"`
	Kind             Kind      `json:"kind"`
	Confidence       float64   `json:"confidence"`
	Importance       *float64  `json:"importance,omitempty"`
	Weight           float64   `json:"weight"`
	LastReinforcedAt time.Time `json:"last_reinforced_at"`
	StartDate        *string   `json:"start_date,omitempty"`
	EndDate          *string   `json:"end_date,omitempty"`
	Description      string    `json:"description,omitempty"`
	Metadata         Metadata  `json:"metadata"`
	SourceEventID    string    `json:"source_event_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (e *Edge) Triple() Triple {
	return Triple{FromID: e.FromID, ToID: e.ToID, Kind: e.Kind}
}

// ReinforcementCount is the number of repeat detections after creation.
func (e *Edge) ReinforcementCount() int {
	return e.Metadata.Int(MetaReinforcementCount)
}

// DetectedInEvents lists the source events that produced or reinforced the edge.
func (e *Edge) DetectedInEvents() []string {
	return e.Metadata.Strings(MetaDetectedInEvents)
}

// Proposal is a candidate edge produced by a strategy. Proposals live for a
// single run and are never persisted directly.
type Proposal struct {
	FromID      string
	ToID        string
	Kind        Kind
	Confidence  float64
	Importance  *float64
	Description string
	StartDate   *string
	EndDate     *string
	Metadata    Metadata
}

func (p Proposal) Triple() Triple {
	return Triple{FromID: p.FromID, ToID: p.ToID, Kind: p.Kind}
}

// SourceEventID returns the originating event recorded on the proposal, if any.
func (p Proposal) SourceEventID() string {
	return p.Metadata.String(MetaSourceEventID)
}

// Float returns a pointer to v, for optional fields.
func Float(v float64) *float64 { return &v }

// Str returns a pointer to s, or nil for the empty string.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
