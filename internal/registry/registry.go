// Package registry tracks worker membership and liveness for the
// coordinator.
//
// Grounded on johnjansen-torua's internal/coordinator/health_monitor.go: a
// map of per-node status guarded by a single mutex, with a background
// ticker sweeping for staleness and invoking a callback on transition.
// Torua's monitor polls nodes over HTTP; workers here instead push
// heartbeats, so the sweep only needs to compare LastHeartbeat against a
// timeout rather than dial out.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/syrilj/strata/internal/strataerr"
	"github.com/syrilj/strata/internal/telemetry"
	"github.com/syrilj/strata/internal/types"
)

// DefaultHeartbeatTimeout is how long a worker may go without a heartbeat
// before the sweep marks it dead.
const DefaultHeartbeatTimeout = 30 * time.Second

// DefaultSweepInterval is how often the dead-worker sweep runs.
const DefaultSweepInterval = 5 * time.Second

// DefaultMaxWorldSize is the registry's worldSize ceiling when none is
// configured — large enough not to bind any realistic single-coordinator
// cluster, small enough to make Register's Capacity path reachable in
// tests without registering thousands of workers.
const DefaultMaxWorldSize = 1024

// forwardTransitions enumerates the only state changes the registry
// accepts, per spec.md §4.4's state machine. A transition not listed here
// is rejected with strataerr.InvalidArgument.
var forwardTransitions = map[types.WorkerState]map[types.WorkerState]bool{
	types.WorkerInitializing:  {types.WorkerIdle: true, types.WorkerError: true, types.WorkerDisconnecting: true},
	types.WorkerIdle:          {types.WorkerLoadingData: true, types.WorkerTraining: true, types.WorkerCheckpointing: true, types.WorkerError: true, types.WorkerDisconnecting: true},
	types.WorkerLoadingData:   {types.WorkerTraining: true, types.WorkerIdle: true, types.WorkerError: true, types.WorkerDisconnecting: true},
	types.WorkerTraining:      {types.WorkerIdle: true, types.WorkerCheckpointing: true, types.WorkerError: true, types.WorkerDisconnecting: true},
	types.WorkerCheckpointing: {types.WorkerIdle: true, types.WorkerTraining: true, types.WorkerError: true, types.WorkerDisconnecting: true},
	types.WorkerError:         {types.WorkerRecovering: true, types.WorkerDisconnecting: true},
	types.WorkerRecovering:    {types.WorkerIdle: true, types.WorkerError: true, types.WorkerDisconnecting: true},
	types.WorkerDisconnecting: {types.WorkerDead: true},
}

// Registry is the coordinator's authoritative view of worker membership.
// One Registry per coordinator instance.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*types.Worker
	ranks   []string // worker IDs ordered by Rank, dense [0, len)

	heartbeatTimeout time.Duration
	maxWorldSize     int
	onDead           func(workerID string)
}

// New creates an empty Registry with the default heartbeat timeout and
// worldSize capacity.
func New() *Registry {
	return &Registry{
		workers:          make(map[string]*types.Worker),
		heartbeatTimeout: DefaultHeartbeatTimeout,
		maxWorldSize:     DefaultMaxWorldSize,
	}
}

// SetHeartbeatTimeout overrides the default staleness threshold.
func (r *Registry) SetHeartbeatTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeatTimeout = d
}

// SetMaxWorldSize overrides the default worldSize capacity. Register
// fails with strataerr.Capacity once the registry holds this many workers.
func (r *Registry) SetMaxWorldSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxWorldSize = n
}

// SetOnDead registers a callback invoked (outside the registry lock) with
// the ID of each worker the sweep marks Dead for staleness.
func (r *Registry) SetOnDead(cb func(workerID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDead = cb
}

// Register admits a new worker. Per spec.md §4.4 it fails if a worker
// with the same ID is already registered, and fails if worldSize is at
// its configured capacity. Rank is assigned densely: the next free index.
func (r *Registry) Register(w types.Worker) (types.Worker, error) {
	if w.ID == "" {
		return types.Worker{}, strataerr.New(strataerr.InvalidArgument, "Register", "worker ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.ID]; exists {
		return types.Worker{}, strataerr.New(strataerr.AlreadyExists, "Register", "worker %q already registered", w.ID)
	}
	if len(r.workers) >= r.maxWorldSize {
		return types.Worker{}, strataerr.New(strataerr.Capacity, "Register", "worldSize at capacity (%d)", r.maxWorldSize)
	}

	now := time.Now()
	w.State = types.WorkerInitializing
	w.LastHeartbeat = now
	w.RegisteredAt = now
	w.Rank = len(r.ranks)
	r.ranks = append(r.ranks, w.ID)

	stored := w
	r.workers[w.ID] = &stored
	return stored, nil
}

// Deregister removes a worker immediately (a graceful disconnect, as
// opposed to a sweep-detected death) and renumbers ranks densely.
func (r *Registry) Deregister(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[workerID]; !ok {
		return strataerr.New(strataerr.NotFound, "Deregister", "worker %q not registered", workerID)
	}
	delete(r.workers, workerID)
	r.removeRankLocked(workerID)
	return nil
}

func (r *Registry) removeRankLocked(workerID string) {
	for i, id := range r.ranks {
		if id == workerID {
			r.ranks = append(r.ranks[:i], r.ranks[i+1:]...)
			break
		}
	}
	for i, id := range r.ranks {
		if w, ok := r.workers[id]; ok {
			w.Rank = i
		}
	}
}

// Heartbeat updates a worker's liveness timestamp and, if provided,
// transitions its state. An empty nextState leaves the state unchanged.
func (r *Registry) Heartbeat(workerID string, nextState types.WorkerState, step, epoch uint64, resources types.ResourceMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return strataerr.New(strataerr.NotFound, "Heartbeat", "worker %q not registered", workerID)
	}

	if nextState != "" && nextState != w.State {
		allowed := forwardTransitions[w.State]
		if !allowed[nextState] {
			return strataerr.New(strataerr.InvalidArgument, "Heartbeat", "illegal transition %s -> %s", w.State, nextState)
		}
		w.State = nextState
	}

	w.LastHeartbeat = time.Now()
	w.Step = step
	w.Epoch = epoch
	w.Resources = resources
	return nil
}

// Get returns a copy of the worker record, or false if unknown.
func (r *Registry) Get(workerID string) (types.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	if !ok {
		return types.Worker{}, false
	}
	return *w, true
}

// All returns a rank-ordered snapshot of every registered worker.
func (r *Registry) All() []types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Worker, 0, len(r.ranks))
	for _, id := range r.ranks {
		if w, ok := r.workers[id]; ok {
			out = append(out, *w)
		}
	}
	return out
}

// WorldSize returns the number of currently registered workers.
func (r *Registry) WorldSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Active returns workers not in WorkerDead or WorkerDisconnecting, for
// aggregation and the dashboard's active-worker count.
func (r *Registry) Active() []types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Worker, 0, len(r.workers))
	for _, id := range r.ranks {
		w, ok := r.workers[id]
		if !ok {
			continue
		}
		if w.State == types.WorkerDead || w.State == types.WorkerDisconnecting {
			continue
		}
		out = append(out, *w)
	}
	return out
}

// AggregateMetrics sums resource usage across active workers (CPU percent
// and byte counters) and concatenates their per-GPU metrics.
func (r *Registry) AggregateMetrics() types.ResourceMetrics {
	active := r.Active()
	var agg types.ResourceMetrics
	for _, w := range active {
		agg.CPUPercent += w.Resources.CPUPercent
		agg.MemoryBytes += w.Resources.MemoryBytes
		agg.DiskReadBytes += w.Resources.DiskReadBytes
		agg.DiskWriteBytes += w.Resources.DiskWriteBytes
		agg.NetRxBytes += w.Resources.NetRxBytes
		agg.NetTxBytes += w.Resources.NetTxBytes
		agg.GPUs = append(agg.GPUs, w.Resources.GPUs...)
	}
	return agg
}

// sweepDead marks workers whose LastHeartbeat has exceeded the timeout as
// Dead and invokes onDead for each — a distinct operation from RemoveDead
// per spec.md §4.4: this one only transitions state, it does not evict.
// Dead workers remain in the registry (and so in WorldSize) until a
// RemoveDead call reassigns ranks around them.
func (r *Registry) sweepDead() {
	r.mu.Lock()
	timeout := r.heartbeatTimeout
	cutoff := time.Now().Add(-timeout)
	var dead []string
	for id, w := range r.workers {
		if w.State == types.WorkerDead {
			continue
		}
		if w.LastHeartbeat.Before(cutoff) {
			w.State = types.WorkerDead
			dead = append(dead, id)
		}
	}
	cb := r.onDead
	r.mu.Unlock()

	if cb != nil {
		for _, id := range dead {
			cb(id)
		}
	}
	r.reportWorkerCounts()
}

// RemoveDead evicts every worker currently in the Dead state, reassigning
// ranks densely around the gaps they leave. Separate from sweepDead per
// spec.md §4.4: marking and eviction are independently callable operations.
func (r *Registry) RemoveDead() []string {
	r.mu.Lock()
	var removed []string
	for id, w := range r.workers {
		if w.State == types.WorkerDead {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(r.workers, id)
		r.removeRankLocked(id)
	}
	r.mu.Unlock()

	r.reportWorkerCounts()
	return removed
}

// reportWorkerCounts publishes the current per-state worker counts to
// telemetry.WorkersTotal, so the dashboard's /metrics endpoint reflects the
// sweep's view of membership without every Register/Heartbeat call paying
// for a gauge update.
func (r *Registry) reportWorkerCounts() {
	counts := make(map[types.WorkerState]int)
	r.mu.RLock()
	for _, w := range r.workers {
		counts[w.State]++
	}
	r.mu.RUnlock()

	for _, state := range []types.WorkerState{
		types.WorkerInitializing, types.WorkerIdle, types.WorkerLoadingData,
		types.WorkerTraining, types.WorkerCheckpointing, types.WorkerRecovering,
		types.WorkerError, types.WorkerDisconnecting, types.WorkerDead,
	} {
		telemetry.WorkersTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// Run starts the dead-worker sweep loop, blocking until ctx is canceled.
// Intended to be launched as one leg of an errgroup in cmd/coordinator.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"heartbeat_timeout": r.heartbeatTimeout,
		"sweep_interval":    DefaultSweepInterval,
	}).Info("registry: dead-worker sweep started")

	for {
		select {
		case <-ticker.C:
			r.sweepDead()
			r.RemoveDead()
		case <-ctx.Done():
			return nil
		}
	}
}
