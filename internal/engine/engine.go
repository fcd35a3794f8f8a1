package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/synapse/internal/config"
	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/llm"
	"github.com/lazypower/synapse/internal/store"
)

// Engine discovers, reinforces, decays and prunes edges. It runs in three
// modes: Incremental after each ingestion event, Nightly on a schedule, and
// On-Demand when asked.
type Engine struct {
	DB       *store.DB
	LLM      llm.Client
	Embedder Embedder
	Config   config.EngineConfig

	reinforcer *Reinforcer

	// maint is held for reading by Incremental runs and for writing by
	// Nightly, On-Demand and standalone decay or prune.
	maint sync.RWMutex
	// scheduled admits one Nightly or On-Demand run at a time.
	scheduled sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a new Engine. Zero-valued tuning fields take their defaults,
// except MinConfidence and PruneThreshold: zero is a meaningful setting for
// both (keep every proposal, prune nothing) and is used as given.
func New(db *store.DB, client llm.Client, cfg config.EngineConfig) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		DB:         db,
		LLM:        client,
		Config:     withDefaults(cfg),
		reinforcer: NewReinforcer(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func withDefaults(cfg config.EngineConfig) config.EngineConfig {
	def := config.Default().Engine
	if cfg.DecayFactor <= 0 {
		cfg.DecayFactor = def.DecayFactor
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = def.DuplicateThreshold
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	if cfg.SemanticMaxEntities <= 0 {
		cfg.SemanticMaxEntities = def.SemanticMaxEntities
	}
	if cfg.NightlyLookback <= 0 {
		cfg.NightlyLookback = def.NightlyLookback
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return cfg
}

// SetEmbedder configures the embedding provider.
func (e *Engine) SetEmbedder(emb Embedder) {
	e.Embedder = emb
}

// RunResult is the uniform report of every mode. Fields that do not apply to
// a mode are omitted.
type RunResult struct {
	RunID                 string   `json:"runId,omitempty"`
	Mode                  string   `json:"mode"`
	EdgesCreated          int      `json:"edgesCreated"`
	EdgesUpdated          int      `json:"edgesUpdated"`
	EdgesPruned           *int     `json:"edgesPruned,omitempty"`
	EntitiesAnalyzed      *int     `json:"entitiesAnalyzed,omitempty"`
	StrategiesUsed        []string `json:"strategiesUsed,omitempty"`
	StrategiesFailed      []string `json:"strategiesFailed,omitempty"`
	ProcessingTimeSeconds float64  `json:"processingTimeSeconds"`
}

// OnDemandRequest selects what an On-Demand run analyzes.
type OnDemandRequest struct {
	EntityIDs []string // empty means the whole graph
	// Scoped restricts detection to EntityIDs and skips decay and prune.
	// When false the ids are ignored and a full Nightly scan runs.
	Scoped bool
}

// Incremental links the entities extracted from one event to each other and
// to the most recent entities in the graph, using only the cheap strategies.
// Events with fewer than two entities are a no-op.
func (e *Engine) Incremental(ctx context.Context, eventID string) (*RunResult, error) {
	if eventID == "" {
		return nil, fmt.Errorf("incremental: event id is required")
	}
	start := time.Now()
	res := &RunResult{Mode: store.RunIncremental}

	e.maint.RLock()
	defer e.maint.RUnlock()

	entities, err := e.DB.EntitiesByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("incremental: load entities for %s: %w", eventID, err)
	}
	if len(entities) < 2 {
		log.Printf("incremental: event %s has %d entities, nothing to link", eventID, len(entities))
		res.ProcessingTimeSeconds = time.Since(start).Seconds()
		return res, nil
	}

	res.RunID = e.startRun(ctx, store.RunIncremental, map[string]any{"event_id": eventID})
	err = func() error {
		recent, err := e.DB.RecentEntities(ctx, e.Config.RecentWindow)
		if err != nil {
			return fmt.Errorf("load recent entities: %w", err)
		}
		text, err := e.DB.EventText(ctx, eventID)
		if err != nil {
			log.Printf("incremental: event text for %s: %v", eventID, err)
		}

		in := Input{Entities: mergeEntities(entities, recent), Context: text}
		outcomes := e.detect(ctx, e.cheapStrategies(), in, 1)
		if err := ctx.Err(); err != nil {
			return err
		}
		return e.apply(ctx, outcomes, eventID, res)
	}()
	e.finish(res, start, err)
	if err != nil {
		return res, fmt.Errorf("incremental: %w", err)
	}
	log.Printf("incremental: event %s created=%d updated=%d in %.2fs",
		eventID, res.EdgesCreated, res.EdgesUpdated, res.ProcessingTimeSeconds)
	return res, nil
}

// Nightly runs every strategy over entities changed in the lookback window
// (or all entities when fullScan is set), then decays and prunes the whole
// graph. It returns ErrRunInProgress if another Nightly or On-Demand run is
// active.
func (e *Engine) Nightly(ctx context.Context, fullScan bool) (*RunResult, error) {
	if !e.scheduled.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.scheduled.Unlock()
	e.maint.Lock()
	defer e.maint.Unlock()

	return e.nightly(ctx, store.RunNightly, fullScan)
}

// OnDemand runs a manually triggered analysis. Unless req.Scoped (or the
// on_demand_scoped setting) is on, it is a full Nightly scan and the entity
// ids are ignored.
func (e *Engine) OnDemand(ctx context.Context, req OnDemandRequest) (*RunResult, error) {
	if !e.scheduled.TryLock() {
		return nil, ErrRunInProgress
	}
	defer e.scheduled.Unlock()
	e.maint.Lock()
	defer e.maint.Unlock()

	if !req.Scoped && !e.Config.OnDemandScoped {
		if len(req.EntityIDs) > 0 {
			log.Printf("on-demand: ignoring %d entity ids, running a full scan (scoping is off)", len(req.EntityIDs))
		}
		return e.nightly(ctx, store.RunOnDemand, true)
	}

	start := time.Now()
	res := &RunResult{Mode: store.RunOnDemand}
	res.RunID = e.startRun(ctx, store.RunOnDemand, map[string]any{"entity_ids": req.EntityIDs, "scoped": true})
	err := func() error {
		var entities []graph.Entity
		var err error
		if len(req.EntityIDs) == 0 {
			entities, err = e.DB.AllEntities(ctx)
		} else {
			entities, err = e.DB.EntitiesByIDs(ctx, req.EntityIDs)
		}
		if err != nil {
			return fmt.Errorf("load entities: %w", err)
		}
		res.EntitiesAnalyzed = intPtr(len(entities))
		log.Printf("on-demand: analyzing %d entities (scoped)", len(entities))

		outcomes := e.detect(ctx, e.allStrategies(e.similarityEmbedder(ctx)), Input{Entities: entities}, e.Config.Concurrency)
		if err := ctx.Err(); err != nil {
			return err
		}
		return e.apply(ctx, outcomes, "", res)
	}()
	e.finish(res, start, err)
	if err != nil {
		return res, fmt.Errorf("on-demand: %w", err)
	}
	return res, nil
}

// nightly expects the caller to hold both e.scheduled and e.maint.
func (e *Engine) nightly(ctx context.Context, mode string, fullScan bool) (*RunResult, error) {
	start := time.Now()
	res := &RunResult{Mode: mode}
	res.RunID = e.startRun(ctx, mode, map[string]any{"full_scan": fullScan})

	err := func() error {
		var entities []graph.Entity
		var err error
		if fullScan {
			entities, err = e.DB.AllEntities(ctx)
		} else {
			entities, err = e.DB.EntitiesSince(ctx, time.Now().Add(-e.Config.NightlyLookback))
		}
		if err != nil {
			return fmt.Errorf("load entities: %w", err)
		}
		res.EntitiesAnalyzed = intPtr(len(entities))
		log.Printf("%s: analyzing %d entities (full_scan=%v)", mode, len(entities), fullScan)

		outcomes := e.detect(ctx, e.allStrategies(e.similarityEmbedder(ctx)), Input{Entities: entities}, e.Config.Concurrency)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.apply(ctx, outcomes, "", res); err != nil {
			return err
		}

		if _, err := e.decay(ctx, e.Config.DecayFactor); err != nil {
			return err
		}
		pruned, err := e.prune(ctx, e.Config.PruneThreshold)
		if err != nil {
			return err
		}
		res.EdgesPruned = intPtr(int(pruned))
		return nil
	}()
	e.finish(res, start, err)
	if err != nil {
		return res, fmt.Errorf("%s: %w", mode, err)
	}
	log.Printf("%s: created=%d updated=%d pruned=%d in %.2fs",
		mode, res.EdgesCreated, res.EdgesUpdated, *res.EdgesPruned, res.ProcessingTimeSeconds)
	return res, nil
}

func (e *Engine) cheapStrategies() []Strategy {
	return []Strategy{
		PatternStrategy{},
		&SemanticStrategy{LLM: e.LLM, MaxEntities: e.Config.SemanticMaxEntities},
	}
}

func (e *Engine) allStrategies(emb Embedder) []Strategy {
	return append(e.cheapStrategies(),
		&SimilarityStrategy{
			Embedder:           emb,
			Cache:              e.DB,
			Threshold:          e.Config.SimilarityThreshold,
			DuplicateThreshold: e.Config.DuplicateThreshold,
		},
		TemporalStrategy{},
		&TopologyStrategy{Graph: e.DB},
	)
}

// similarityEmbedder returns the embedder for one similarity pass. A
// corpus-fitted embedder is refitted on every entity in the graph; if the
// entities cannot be read the previous fit is used.
func (e *Engine) similarityEmbedder(ctx context.Context) Embedder {
	r, ok := e.Embedder.(Refitter)
	if !ok {
		return e.Embedder
	}
	entities, err := e.DB.AllEntities(ctx)
	if err != nil {
		log.Printf("similarity: refit skipped: %v", err)
		return e.Embedder
	}
	docs := make([]string, len(entities))
	for i, ent := range entities {
		docs[i] = ent.Text()
	}
	return r.Refit(docs)
}

// detect runs strategies, up to concurrency at once, and returns their
// outcomes in strategy order.
func (e *Engine) detect(ctx context.Context, strategies []Strategy, in Input, concurrency int) []outcome {
	outcomes := make([]outcome, len(strategies))
	if concurrency <= 1 {
		for i, s := range strategies {
			if ctx.Err() != nil {
				outcomes[i] = outcome{Strategy: s.Name(), Err: &StrategyError{Strategy: s.Name(), Err: ctx.Err()}}
				continue
			}
			outcomes[i] = runStrategy(ctx, s, in)
		}
		return outcomes
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, s := range strategies {
		g.Go(func() error {
			outcomes[i] = runStrategy(gctx, s, in)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// apply filters each strategy's proposals and writes them, one transaction
// per strategy. A persistence failure rolls back that strategy's batch and
// stops the run; batches already committed stay.
func (e *Engine) apply(ctx context.Context, outcomes []outcome, eventID string, res *RunResult) error {
	for _, o := range outcomes {
		res.StrategiesUsed = append(res.StrategiesUsed, o.Strategy)
		if o.Err != nil {
			res.StrategiesFailed = append(res.StrategiesFailed, o.Strategy)
			continue
		}
		batch := FilterByConfidence(dropMalformed(o.Strategy, o.Proposals), e.Config.MinConfidence)
		if len(batch) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		created, updated, err := e.applyBatch(ctx, o.Strategy, eventID, batch)
		if err != nil {
			return err
		}
		res.EdgesCreated += created
		res.EdgesUpdated += updated
		edgesCreatedTotal.WithLabelValues(o.Strategy).Add(float64(created))
		edgesReinforcedTotal.WithLabelValues(o.Strategy).Add(float64(updated))
	}
	return nil
}

// applyBatch applies one strategy's proposals in a single transaction. The
// batch's triples stay locked until the transaction has committed, so a
// concurrent run never reads a row this batch is about to change.
func (e *Engine) applyBatch(ctx context.Context, strategy, eventID string, batch []graph.Proposal) (created, updated int, err error) {
	triples := make([]graph.Triple, len(batch))
	for i, p := range batch {
		triples[i] = p.Triple()
	}
	unlock := e.reinforcer.LockTriples(triples)
	defer unlock()

	err = e.DB.WithTx(ctx, func(tx *store.Tx) error {
		created, updated = 0, 0
		for _, p := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.Metadata = p.Metadata.Clone()
			p.Metadata[graph.MetaSourceStrategy] = strategy
			if eventID != "" {
				p.Metadata[graph.MetaSourceEventID] = eventID
			}

			out, err := e.reinforcer.ApplyLocked(ctx, tx, p)
			if err != nil {
				return err
			}
			if out == OutcomeReinforced {
				updated++
			} else {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

func (e *Engine) startRun(ctx context.Context, mode string, params map[string]any) string {
	raw, _ := json.Marshal(params)
	id, err := e.DB.StartRun(ctx, mode, string(raw))
	if err != nil {
		log.Printf("engine: record %s run: %v", mode, err)
		return ""
	}
	return id
}

func (e *Engine) finish(res *RunResult, start time.Time, runErr error) {
	res.ProcessingTimeSeconds = time.Since(start).Seconds()
	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	runDuration.WithLabelValues(res.Mode, status).Observe(res.ProcessingTimeSeconds)

	if res.RunID == "" {
		return
	}
	counts := store.RunCounts{EdgesCreated: res.EdgesCreated, EdgesUpdated: res.EdgesUpdated}
	if res.EdgesPruned != nil {
		counts.EdgesPruned = *res.EdgesPruned
	}
	if res.EntitiesAnalyzed != nil {
		counts.EntitiesAnalyzed = *res.EntitiesAnalyzed
	}
	// The run's own context may already be canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.DB.FinishRun(ctx, res.RunID, counts, runErr); err != nil {
		log.Printf("engine: finish run %s: %v", res.RunID, err)
	}
}

// mergeEntities appends extra to primary, skipping ids already present.
func mergeEntities(primary, extra []graph.Entity) []graph.Entity {
	seen := make(map[string]bool, len(primary)+len(extra))
	out := make([]graph.Entity, 0, len(primary)+len(extra))
	for _, list := range [][]graph.Entity{primary, extra} {
		for _, ent := range list {
			if seen[ent.ID] {
				continue
			}
			seen[ent.ID] = true
			out = append(out, ent)
		}
	}
	return out
}

func intPtr(n int) *int { return &n }
