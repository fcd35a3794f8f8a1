package engine

import (
	"context"
	"log"
	"time"

	"github.com/lazypower/synapse/internal/graph"
)

// Stand-ins for a missing bound: an open start reaches back to unboundedStart,
// an open end runs to unboundedEnd.
var (
	unboundedStart = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	unboundedEnd   = time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC)
)

// TemporalStrategy links entities whose active periods overlap. Periods come
// from the start_date and end_date metadata keys.
type TemporalStrategy struct{}

func (TemporalStrategy) Name() string { return StrategyTemporal }

type period struct {
	entity     graph.Entity
	start, end time.Time
	parsed     bool
}

func (TemporalStrategy) Detect(ctx context.Context, in Input) ([]graph.Proposal, error) {
	var periods []period
	for _, e := range in.Entities {
		rawStart := e.Metadata.String(graph.MetaStartDate)
		rawEnd := e.Metadata.String(graph.MetaEndDate)
		if rawStart == "" && rawEnd == "" {
			continue
		}
		p := period{entity: e, start: unboundedStart, end: unboundedEnd}
		if t, ok := parseDate(rawStart); ok {
			p.start, p.parsed = t, true
		}
		if t, ok := parseDate(rawEnd); ok {
			p.end, p.parsed = t, true
		}
		periods = append(periods, p)
	}
	if len(periods) < 2 {
		return nil, nil
	}

	var proposals []graph.Proposal
	for i := 0; i < len(periods); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a := periods[i]
		if !a.parsed {
			continue
		}
		for j := i + 1; j < len(periods); j++ {
			b := periods[j]
			if !b.parsed {
				continue
			}
			if a.start.After(b.end) || a.end.Before(b.start) {
				continue
			}
			proposals = append(proposals, overlapProposal(a, b))
		}
	}

	log.Printf("temporal: %d proposals from %d dated entities", len(proposals), len(periods))
	return proposals, nil
}

func overlapProposal(a, b period) graph.Proposal {
	start := a.start
	if b.start.After(start) {
		start = b.start
	}
	end := a.end
	if b.end.Before(end) {
		end = b.end
	}

	days := int(end.Sub(start).Hours() / 24)
	confidence := 0.6
	switch {
	case days > 365:
		confidence = 0.8
	case days > 90:
		confidence = 0.7
	}

	startStr := start.Format("2006-01-02")
	open := end.Equal(unboundedEnd)
	desc := "Co-occurred during " + startStr + " to " + end.Format("2006-01-02")
	var endDate *string
	if open {
		desc = "Co-occurred during from " + startStr + " onwards"
	} else {
		endDate = graph.Str(end.Format("2006-01-02"))
	}

	return graph.Proposal{
		FromID:      a.entity.ID,
		ToID:        b.entity.ID,
		Kind:        graph.KindTemporalOverlap,
		Confidence:  confidence,
		Importance:  graph.Float(0.5),
		Description: desc,
		StartDate:   graph.Str(startStr),
		EndDate:     endDate,
		Metadata:    graph.Metadata{"overlap_days": days},
	}
}
