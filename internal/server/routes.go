package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"

	"github.com/lazypower/synapse/internal/engine"
	"github.com/lazypower/synapse/internal/graph"
	"github.com/lazypower/synapse/internal/store"
)

// decodeBody decodes an optional JSON body into v. An empty body is allowed.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// runResult answers a run trigger: the engine's report, or the one error
// shape. Partial counts from a failed run are logged but not returned.
func (s *Server) runResult(w http.ResponseWriter, mode string, res *engine.RunResult, err error) {
	switch {
	case errors.Is(err, engine.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		log.Printf("server: %s run failed: %v", mode, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) requireEngine(w http.ResponseWriter) bool {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return false
	}
	return true
}

func (s *Server) handleIncremental(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID string `json:"event_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.EventID == "" {
		writeError(w, http.StatusBadRequest, "event_id required")
		return
	}
	if !s.requireEngine(w) {
		return
	}

	res, err := s.engine.Incremental(r.Context(), req.EventID)
	s.runResult(w, store.RunIncremental, res, err)
}

func (s *Server) handleNightly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullScan bool `json:"full_scan"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !s.requireEngine(w) {
		return
	}

	res, err := s.engine.Nightly(r.Context(), req.FullScan)
	s.runResult(w, store.RunNightly, res, err)
}

func (s *Server) handleOnDemand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityIDs []string `json:"entity_ids"`
		All       bool     `json:"all"`
		Scoped    bool     `json:"scoped"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.EntityIDs) == 0 && !req.All {
		writeError(w, http.StatusBadRequest, "entity_ids or all required")
		return
	}
	if !s.requireEngine(w) {
		return
	}

	ids := req.EntityIDs
	if req.All {
		ids = nil
	}
	res, err := s.engine.OnDemand(r.Context(), engine.OnDemandRequest{EntityIDs: ids, Scoped: req.Scoped})
	s.runResult(w, store.RunOnDemand, res, err)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 20)
	runs, err := s.db.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(runs),
		"runs":  runs,
	})
}

func (s *Server) handleListEdges(w http.ResponseWriter, r *http.Request) {
	f := store.EdgeFilter{
		EntityID: r.URL.Query().Get("entity_id"),
		Limit:    intParam(r, "limit", 100),
	}
	if k := r.URL.Query().Get("kind"); k != "" {
		kind, err := graph.ParseKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Kind = kind
	}

	edges, err := s.db.ListEdges(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if edges == nil {
		edges = []graph.Edge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(edges),
		"edges": edges,
	})
}

func (s *Server) handleKinds(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.KindCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type kindJSON struct {
		Kind        graph.Kind `json:"kind"`
		Description string     `json:"description,omitempty"`
		Registered  bool       `json:"registered"`
		Edges       int        `json:"edges"`
	}

	var kinds []kindJSON
	seen := make(map[graph.Kind]bool)
	for _, rk := range graph.RegisteredKinds() {
		kinds = append(kinds, kindJSON{Kind: rk.Kind, Description: rk.Description, Registered: true, Edges: counts[rk.Kind]})
		seen[rk.Kind] = true
	}
	// Kinds invented by the model show up once they have edges.
	var extra []kindJSON
	for k, n := range counts {
		if !seen[k] {
			extra = append(extra, kindJSON{Kind: k, Edges: n})
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Kind < extra[j].Kind })
	kinds = append(kinds, extra...)

	writeJSON(w, http.StatusOK, map[string]any{"kinds": kinds})
}

func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
