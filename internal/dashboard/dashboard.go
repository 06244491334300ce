// Package dashboard serves a read-only JSON snapshot of coordinator state
// — workers, shard distribution, checkpoint index, barrier status — for
// operator tooling. It is additive to the RPC surface in internal/transport
// and never mutates coordinator state.
//
// Grounded on johnjansen-torua's cmd/coordinator/main.go admin endpoints
// (/nodes, /shards), generalized into one aggregate view per
// SPEC_FULL.md's supplemented-features section.
package dashboard

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syrilj/strata/internal/barrier"
	"github.com/syrilj/strata/internal/checkpoint"
	"github.com/syrilj/strata/internal/registry"
	"github.com/syrilj/strata/internal/shard"
)

// Server serves the read-only dashboard view.
type Server struct {
	Registry   *registry.Registry
	Shards     *shard.Manager
	Checkpoint *checkpoint.Manager
	Barriers   *barrier.Coordinator
}

// New creates a dashboard Server bound to the given subsystems.
func New(reg *registry.Registry, shards *shard.Manager, ckpt *checkpoint.Manager, barriers *barrier.Coordinator) *Server {
	return &Server{Registry: reg, Shards: shards, Checkpoint: ckpt, Barriers: barriers}
}

// Router builds the chi router serving the dashboard's JSON endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleOverview)
	r.Get("/workers", s.handleWorkers)
	r.Get("/datasets/{datasetID}/rebalance", s.handleRebalance)
	r.Get("/checkpoints", s.handleCheckpoints)
	r.Get("/barriers/{barrierID}", s.handleBarrierStatus)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type overview struct {
	WorldSize      int                   `json:"world_size"`
	ActiveWorkers  int                   `json:"active_workers"`
	Datasets       []string              `json:"datasets"`
	LatestStep     *uint64               `json:"latest_checkpoint_step,omitempty"`
	CheckpointCount int                  `json:"checkpoint_count"`
}

func (s *Server) handleOverview(w http.ResponseWriter, _ *http.Request) {
	ov := overview{
		WorldSize:       s.Registry.WorldSize(),
		ActiveWorkers:   len(s.Registry.Active()),
		Datasets:        s.Shards.Datasets(),
		CheckpointCount: len(s.Checkpoint.All()),
	}
	if latest, ok := s.Checkpoint.Latest(); ok {
		step := latest.Step
		ov.LatestStep = &step
	}
	writeJSON(w, ov)
}

func (s *Server) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Registry.All())
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")
	summary, err := s.Shards.Rebalance(datasetID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, summary)
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Checkpoint.All())
}

func (s *Server) handleBarrierStatus(w http.ResponseWriter, r *http.Request) {
	barrierID := chi.URLParam(r, "barrierID")
	arrived, expected, ok := s.Barriers.Status(barrierID)
	if !ok {
		http.Error(w, "barrier not active", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]int{"arrived": arrived, "expected": expected})
}
