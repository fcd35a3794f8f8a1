package engine

import (
	"errors"
	"fmt"

	"github.com/lazypower/synapse/internal/graph"
)

var (
	// ErrMalformedResponse means the model's output could not be parsed,
	// even after salvage.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrRunInProgress is returned when a Nightly or On-Demand run is
	// requested while another one is still running.
	ErrRunInProgress = errors.New("a nightly or on-demand run is already in progress")
)

// StrategyError wraps a failure inside one detection strategy. It is
// reported on the run result and never aborts the run.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure writing an edge. It aborts the run.
type PersistenceError struct {
	Triple graph.Triple
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist edge %s: %v", e.Triple, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
