package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/store"
)

// EdgeTx is the edge store surface reinforcement writes through. Both
// *store.DB and *store.Tx satisfy it.
type EdgeTx interface {
	EdgeByTriple(ctx context.Context, t graph.Triple) (*graph.Edge, error)
	CreateEdge(ctx context.Context, e *graph.Edge) error
	UpdateEdge(ctx context.Context, e *graph.Edge) error
}

// Outcome reports what Apply did with a proposal.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeReinforced
)

func (o Outcome) String() string {
	if o == OutcomeReinforced {
		return "reinforced"
	}
	return "created"
}

// Reinforcer is the only writer of edge rows outside decay and prune. It
// keeps at most one edge per (from, to, kind): a repeat detection adds 1.0 to
// the existing edge's weight instead of creating a second one.
type Reinforcer struct {
	locks tripleLocks
	now   func() time.Time
}

// NewReinforcer returns a Reinforcer using the wall clock.
func NewReinforcer() *Reinforcer {
	return &Reinforcer{now: time.Now}
}

// Apply creates the edge for p, or reinforces it if it already exists.
// Calls for the same triple are serialized within the process only while
// Apply runs. When tx is a transaction, hold the triple with LockTriples until
// it commits; otherwise another writer can read the row before the commit.
// The store's unique index catches writers in other processes.
func (r *Reinforcer) Apply(ctx context.Context, tx EdgeTx, p graph.Proposal) (Outcome, error) {
	unlock := r.locks.lock(p.Triple())
	defer unlock()
	return r.apply(ctx, tx, p)
}

// LockTriples takes the in-process lock of every distinct triple in ts, in a
// fixed order, and returns the func that releases them. Use ApplyLocked while
// holding them.
func (r *Reinforcer) LockTriples(ts []graph.Triple) (unlock func()) {
	sorted := make([]graph.Triple, 0, len(ts))
	seen := make(map[graph.Triple]bool, len(ts))
	for _, t := range ts {
		if !seen[t] {
			seen[t] = true
			sorted = append(sorted, t)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.ToID != b.ToID {
			return a.ToID < b.ToID
		}
		return a.Kind < b.Kind
	})

	unlocks := make([]func(), len(sorted))
	for i, t := range sorted {
		unlocks[i] = r.locks.lock(t)
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// ApplyLocked is Apply for a caller that already holds p's triple via
// LockTriples.
func (r *Reinforcer) ApplyLocked(ctx context.Context, tx EdgeTx, p graph.Proposal) (Outcome, error) {
	return r.apply(ctx, tx, p)
}

func (r *Reinforcer) apply(ctx context.Context, tx EdgeTx, p graph.Proposal) (Outcome, error) {
	triple := p.Triple()
	existing, err := tx.EdgeByTriple(ctx, triple)
	if err != nil {
		return 0, &PersistenceError{Triple: triple, Err: err}
	}
	if existing != nil {
		return OutcomeReinforced, r.reinforce(ctx, tx, existing, p)
	}

	edge := r.newEdge(p)
	err = tx.CreateEdge(ctx, edge)
	if err == nil {
		return OutcomeCreated, nil
	}
	if !errors.Is(err, store.ErrDuplicateTriple) {
		return 0, &PersistenceError{Triple: triple, Err: err}
	}

	// Lost a race with another writer: the edge exists now, so reinforce it.
	existing, err = tx.EdgeByTriple(ctx, triple)
	if err != nil {
		return 0, &PersistenceError{Triple: triple, Err: err}
	}
	if existing == nil {
		return 0, &PersistenceError{Triple: triple, Err: fmt.Errorf("edge vanished after duplicate insert")}
	}
	return OutcomeReinforced, r.reinforce(ctx, tx, existing, p)
}

func (r *Reinforcer) reinforce(ctx context.Context, tx EdgeTx, e *graph.Edge, p graph.Proposal) error {
	e.Weight += 1.0
	e.LastReinforcedAt = r.now()
	if p.Confidence > e.Confidence {
		e.Confidence = p.Confidence
	}

	if e.Metadata == nil {
		e.Metadata = graph.Metadata{}
	}
	e.Metadata[graph.MetaReinforcementCount] = e.Metadata.Int(graph.MetaReinforcementCount) + 1
	events := e.Metadata.Strings(graph.MetaDetectedInEvents)
	if events == nil {
		events = []string{}
	}
	e.Metadata[graph.MetaDetectedInEvents] = events
	if ev := p.SourceEventID(); ev != "" {
		e.Metadata.AppendUnique(graph.MetaDetectedInEvents, ev)
	}

	if err := tx.UpdateEdge(ctx, e); err != nil {
		return &PersistenceError{Triple: e.Triple(), Err: err}
	}
	return nil
}

func (r *Reinforcer) newEdge(p graph.Proposal) *graph.Edge {
	now := r.now()
	meta := p.Metadata.Clone()
	events := []string{}
	if ev := p.SourceEventID(); ev != "" {
		events = append(events, ev)
	}
	meta[graph.MetaReinforcementCount] = 0
	meta[graph.MetaDetectedInEvents] = events

	return &graph.Edge{
		FromID:           p.FromID,
		ToID:             p.ToID,
		Kind:             p.Kind,
		Confidence:       p.Confidence,
		Importance:       p.Importance,
		Weight:           1.0,
		LastReinforcedAt: now,
		StartDate:        p.StartDate,
		EndDate:          p.EndDate,
		Description:      p.Description,
		Metadata:         meta,
		SourceEventID:    p.SourceEventID(),
		CreatedAt:        now,
	}
}

// tripleLocks hands out one mutex per triple, dropped once no caller holds it.
type tripleLocks struct {
	mu    sync.Mutex
	locks map[graph.Triple]*tripleLock
}

type tripleLock struct {
	mu   sync.Mutex
	refs int
}

func (l *tripleLocks) lock(t graph.Triple) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[graph.Triple]*tripleLock)
	}
	tl, ok := l.locks[t]
	if !ok {
		tl = &tripleLock{}
		l.locks[t] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, t)
		}
		l.mu.Unlock()
	}
}

func (l *tripleLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
