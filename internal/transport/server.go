// Package transport exposes the coordinator's RPC surface over HTTP/JSON,
// with one WebSocket upgrade for the single bidirectional-streaming
// operation. A real deployment of the original design used protobuf/gRPC
// stubs; generating those requires running protoc, which this build never
// does (see SPEC_FULL.md §6) — chi + gorilla/websocket is the idiomatic Go
// substitute the example pack's own stack (orbas1-Synnergy) already uses.
//
// Grounded on johnjansen-torua's cmd/coordinator/main.go: a server struct
// holding references to the domain components, one handler method per
// endpoint, JSON request/response bodies, http.Error for failures.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/syrilj/strata/internal/barrier"
	"github.com/syrilj/strata/internal/checkpoint"
	"github.com/syrilj/strata/internal/ratelimit"
	"github.com/syrilj/strata/internal/registry"
	"github.com/syrilj/strata/internal/shard"
	"github.com/syrilj/strata/internal/strataerr"
	"github.com/syrilj/strata/internal/telemetry"
	"github.com/syrilj/strata/internal/types"
	"github.com/syrilj/strata/internal/validate"
)

// Server binds the coordinator's domain packages to HTTP handlers.
type Server struct {
	Registry   *registry.Registry
	Shards     *shard.Manager
	Checkpoint *checkpoint.Manager
	Barriers   *barrier.Coordinator
	Limiter    *ratelimit.Limiter

	upgrader websocket.Upgrader
}

// New creates a Server wired to the given subsystems.
func New(reg *registry.Registry, shards *shard.Manager, ckpt *checkpoint.Manager, barriers *barrier.Coordinator, limiter *ratelimit.Limiter) *Server {
	return &Server{
		Registry:   reg,
		Shards:     shards,
		Checkpoint: ckpt,
		Barriers:   barriers,
		Limiter:    limiter,
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Router builds the chi router for all nine RPC operations.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(300 * time.Second))
	r.Use(s.rateLimitMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/workers", func(r chi.Router) {
		r.Post("/register", s.handleRegisterWorker)
		r.Delete("/{workerID}", s.handleDeregisterWorker)
		r.Post("/{workerID}/heartbeat", s.handleHeartbeat)
		r.Get("/", s.handleListWorkers)
	})

	r.Route("/datasets", func(r chi.Router) {
		r.Post("/", s.handleRegisterDataset)
		r.Get("/{datasetID}/workers/{workerID}/shard", s.handleGetDataShard)
		r.Get("/{datasetID}/workers/{workerID}/shards", s.handleAssignShards)
	})

	r.Route("/checkpoints", func(r chi.Router) {
		r.Post("/", s.handleNotifyCheckpoint)
		r.Get("/latest", s.handleGetLatestCheckpoint)
	})

	r.Route("/barriers", func(r chi.Router) {
		r.Post("/{barrierID}/wait", s.handleWaitBarrier)
	})

	r.Get("/ws/heartbeats", s.handleStreamHeartbeats)

	return r
}

// rateLimitMiddleware rejects requests from a client that has exceeded its
// token-bucket allowance, returning a Retry-After header per
// golang.org/x/time/rate's Reserve().Delay() convention.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		clientID := r.Header.Get("X-Client-ID")
		if clientID == "" {
			clientID = r.RemoteAddr
		}
		ok, retryAfter := s.Limiter.Allow(clientID)
		if !ok {
			telemetry.RateLimitRejections.WithLabelValues(clientID).Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch strataerr.KindOf(err) {
	case strataerr.InvalidArgument:
		status = http.StatusBadRequest
	case strataerr.NotFound:
		status = http.StatusNotFound
	case strataerr.AlreadyExists:
		status = http.StatusConflict
	case strataerr.Timeout:
		status = http.StatusGatewayTimeout
	case strataerr.Unavailable:
		status = http.StatusServiceUnavailable
	case strataerr.Corrupted:
		status = http.StatusUnprocessableEntity
	case strataerr.Capacity:
		status = http.StatusTooManyRequests
	}
	http.Error(w, err.Error(), status)
}

// --- Worker registration & liveness ---

type registerWorkerRequest struct {
	ID          string `json:"id"`
	Hostname    string `json:"hostname"`
	Port        int    `json:"port"`
	GPUCount    int    `json:"gpu_count"`
	TotalMemory uint64 `json:"total_memory"`
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.WorkerID("id", req.ID); err != nil {
		writeError(w, err)
		return
	}
	if err := validate.Port("port", req.Port); err != nil {
		writeError(w, err)
		return
	}

	worker, err := s.Registry.Register(types.Worker{
		ID:          req.ID,
		Hostname:    req.Hostname,
		Port:        req.Port,
		GPUCount:    req.GPUCount,
		TotalMemory: req.TotalMemory,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.Shards.AddWorker(req.ID)
	telemetry.RPCRequests.WithLabelValues("RegisterWorker", "ok").Inc()
	writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) handleDeregisterWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if err := s.Registry.Deregister(workerID); err != nil {
		writeError(w, err)
		return
	}
	s.Shards.RemoveWorker(workerID)
	telemetry.RPCRequests.WithLabelValues("DeregisterWorker", "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

type heartbeatRequest struct {
	State     types.WorkerState     `json:"state,omitempty"`
	Step      uint64                `json:"step"`
	Epoch     uint64                `json:"epoch"`
	Resources types.ResourceMetrics `json:"resources"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := s.Registry.Heartbeat(workerID, req.State, req.Step, req.Epoch, req.Resources); err != nil {
		writeError(w, err)
		return
	}
	telemetry.RPCRequests.WithLabelValues("Heartbeat", "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.All())
}

// handleStreamHeartbeats upgrades to a WebSocket connection and accepts a
// stream of heartbeatRequest frames, applying each exactly as the
// request-response Heartbeat handler would. This is StreamHeartbeats, the
// one operation in the RPC surface that needs a persistent connection
// rather than one-shot request/response.
func (s *Server) handleStreamHeartbeats(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		http.Error(w, "worker_id query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req heartbeatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if err := s.Registry.Heartbeat(workerID, req.State, req.Step, req.Epoch, req.Resources); err != nil {
			_ = conn.WriteJSON(map[string]string{"error": err.Error()})
			continue
		}
		_ = conn.WriteJSON(map[string]string{"status": "ok"})
	}
}

// --- Datasets & shard assignment ---

type registerDatasetRequest struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	Format     string `json:"format"`
	TotalCount uint64 `json:"total_count"`
	ShardSize  uint64 `json:"shard_size"`
	Shuffle    bool   `json:"shuffle"`
	Seed       uint64 `json:"seed"`
}

func (s *Server) handleRegisterDataset(w http.ResponseWriter, r *http.Request) {
	var req registerDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.DatasetID("id", req.ID); err != nil {
		writeError(w, err)
		return
	}
	if err := validate.Path("path", req.Path); err != nil {
		writeError(w, err)
		return
	}

	d, err := s.Shards.RegisterDataset(types.Dataset{
		ID:         req.ID,
		Path:       req.Path,
		Format:     req.Format,
		TotalCount: req.TotalCount,
		ShardSize:  req.ShardSize,
		Shuffle:    req.Shuffle,
		Seed:       req.Seed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// assignForWorker resolves (rank, worldSize) from the registry — the
// component that owns rank assignment per SPEC_FULL.md's component table —
// then calls shard.Manager.Assign, spec.md §4.3's assign(dataset, worker,
// epoch) algorithm.
func (s *Server) assignForWorker(datasetID, workerID string, epoch uint64) ([]types.ShardAssignment, error) {
	worker, ok := s.Registry.Get(workerID)
	if !ok {
		return nil, strataerr.New(strataerr.NotFound, "assignForWorker", "worker %q not registered", workerID)
	}
	return s.Shards.Assign(datasetID, workerID, worker.Rank, s.Registry.WorldSize(), epoch)
}

func parseEpoch(r *http.Request) (uint64, error) {
	q := r.URL.Query().Get("epoch")
	if q == "" {
		return 0, nil
	}
	return strconv.ParseUint(q, 10, 64)
}

// handleGetDataShard serves GetDataShard: "the primary shard for (dataset,
// worker, epoch)" per spec.md §6 — the first entry of the full assignment
// list computed by assign().
func (s *Server) handleGetDataShard(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")
	workerID := chi.URLParam(r, "workerID")
	epoch, err := parseEpoch(r)
	if err != nil {
		http.Error(w, "invalid epoch", http.StatusBadRequest)
		return
	}

	assignments, err := s.assignForWorker(datasetID, workerID, epoch)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(assignments) == 0 {
		http.Error(w, "worker has no assigned shards for this dataset/epoch", http.StatusNotFound)
		return
	}
	telemetry.RPCRequests.WithLabelValues("GetDataShard", "ok").Inc()
	writeJSON(w, http.StatusOK, assignments[0])
}

// handleAssignShards serves the full assign() result list — every shard
// the worker owns for (dataset, epoch), not just the primary one.
// Additive to the nine-operation RPC surface; GetLatestCheckpoint's
// "shard assignments for every registered dataset" response is built on
// top of the same Assign call.
func (s *Server) handleAssignShards(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")
	workerID := chi.URLParam(r, "workerID")
	epoch, err := parseEpoch(r)
	if err != nil {
		http.Error(w, "invalid epoch", http.StatusBadRequest)
		return
	}

	assignments, err := s.assignForWorker(datasetID, workerID, epoch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

// --- Checkpoints ---

type notifyCheckpointRequest struct {
	Step      uint64            `json:"step"`
	Epoch     uint64            `json:"epoch"`
	Path      string            `json:"path"`
	SizeBytes uint64            `json:"size_bytes"`
	Type      types.CheckpointType `json:"type"`
	ModelHash string            `json:"model_hash,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// handleNotifyCheckpoint registers a checkpoint a worker already wrote to
// shared storage out-of-band — the RegisterExternal bypass path, distinct
// from the coordinator's own SaveAsync pipeline which nothing in the RPC
// surface exposes directly (checkpoints are worker-authored; the
// coordinator only indexes and retires them).
func (s *Server) handleNotifyCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req notifyCheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate.Path("path", req.Path); err != nil {
		writeError(w, err)
		return
	}
	if err := validate.Metadata(req.Metadata); err != nil {
		writeError(w, err)
		return
	}

	err := s.Checkpoint.RegisterExternal(types.CheckpointMetadata{
		ID:        fmt.Sprintf("ckpt-%d-external", req.Step),
		Step:      req.Step,
		Epoch:     req.Epoch,
		Path:      req.Path,
		SizeBytes: req.SizeBytes,
		Type:      req.Type,
		ModelHash: req.ModelHash,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.CheckpointWrites.WithLabelValues("external").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// recoveryResponse is spec.md §6's RecoveryResponse: the latest checkpoint
// plus the requesting worker's shard assignments, for every registered
// dataset, at the checkpoint's epoch — so a recovering worker can resume
// its data position without a separate round trip per dataset.
type recoveryResponse struct {
	Checkpoint types.CheckpointMetadata            `json:"checkpoint"`
	Shards     map[string][]types.ShardAssignment `json:"shards"`
}

func (s *Server) handleGetLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		http.Error(w, "worker_id query parameter is required", http.StatusBadRequest)
		return
	}

	meta, ok := s.Checkpoint.Latest()
	if !ok {
		http.Error(w, "no checkpoints available", http.StatusNotFound)
		return
	}

	shards := make(map[string][]types.ShardAssignment)
	for _, datasetID := range s.Shards.Datasets() {
		assignments, err := s.assignForWorker(datasetID, workerID, meta.Epoch)
		if err != nil {
			writeError(w, err)
			return
		}
		shards[datasetID] = assignments
	}

	writeJSON(w, http.StatusOK, recoveryResponse{Checkpoint: meta, Shards: shards})
}

// --- Barriers ---

type waitBarrierRequest struct {
	WorkerID string `json:"worker_id"`
	Step     uint64 `json:"step"`
}

// barrierResponse is spec.md §4.6's wait() result: released plus the
// fixed participant count and this caller's distinct arrival order —
// every one of the K callers on a K-party barrier gets released=true
// with a different arrivalOrder in [1,K].
type barrierResponse struct {
	Released     bool `json:"released"`
	Participants int  `json:"participants"`
	ArrivalOrder int  `json:"arrival_order"`
}

func (s *Server) handleWaitBarrier(w http.ResponseWriter, r *http.Request) {
	barrierID := chi.URLParam(r, "barrierID")
	var req waitBarrierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), barrier.DefaultTimeout+5*time.Second)
	defer cancel()

	released, participants, arrivalOrder, err := s.Barriers.Wait(ctx, barrierID, s.Registry.WorldSize())
	if err != nil {
		if strataerr.KindOf(err) == strataerr.Timeout {
			telemetry.BarrierTimeouts.WithLabelValues(barrierID).Inc()
		}
		writeError(w, err)
		return
	}
	telemetry.BarrierReleases.WithLabelValues(barrierID).Inc()
	writeJSON(w, http.StatusOK, barrierResponse{
		Released:     released,
		Participants: participants,
		ArrivalOrder: arrivalOrder,
	})
}
