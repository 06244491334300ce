// Package barrier implements cluster-wide rendezvous points: a worker
// blocks on a named barrier until every expected worker has arrived, then
// all are released together.
//
// Grounded on original_source/crates/coordinator/src/service.rs's
// BarrierState (an atomic arrival counter plus a mutex-protected list of
// one-shot waiters). The Rust version uses parking_lot::Mutex and
// tokio::oneshot; this version uses sync.Mutex and unbuffered channels
// that are closed on release, the idiomatic Go substitute for a
// single-fire future.
package barrier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syrilj/strata/internal/strataerr"
)

// DefaultTimeout is how long Wait blocks before giving up on stragglers.
const DefaultTimeout = 300 * time.Second

// state is one barrier's rendezvous bookkeeping. expected is snapshotted
// from the first arrival and fixed for the barrier's lifetime — workers
// that join the cluster after the first arrival do not change it.
type state struct {
	expected int64
	arrived  int64

	mu      sync.Mutex
	waiters []chan struct{}
	done    bool
}

// Coordinator manages the set of active barriers, one per barrier ID.
type Coordinator struct {
	mu       sync.Mutex
	barriers map[string]*state
	timeout  time.Duration
}

// New creates a Coordinator with the default timeout.
func New() *Coordinator {
	return &Coordinator{
		barriers: make(map[string]*state),
		timeout:  DefaultTimeout,
	}
}

// SetTimeout overrides the default wait timeout.
func (c *Coordinator) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Wait blocks the caller until expected arrivals accumulate on barrierID,
// or until ctx is canceled or the timeout elapses. expected is snapshotted
// from whichever caller arrives first; later callers' expected arguments
// are ignored once the barrier exists.
//
// It returns (released, participants, arrivalOrder, err) per spec.md
// §4.6's wait(): arrivalOrder is this caller's own 1-indexed position in
// the atomic arrival sequence, obtained before it ever suspends; every
// caller of a given barrierID — the last arrival and every waiter it
// releases — observes the same participants, the barrier's fixed
// expected count.
func (c *Coordinator) Wait(ctx context.Context, barrierID string, expected int) (released bool, participants, arrivalOrder int, err error) {
	if expected <= 0 {
		return false, 0, 0, strataerr.New(strataerr.InvalidArgument, "Wait", "expected must be > 0")
	}

	st := c.getOrCreate(barrierID, expected)
	participants = int(st.expected)

	st.mu.Lock()
	if st.done {
		st.mu.Unlock()
		return true, participants, 0, nil
	}
	ch := make(chan struct{})
	st.waiters = append(st.waiters, ch)
	arrived := atomic.AddInt64(&st.arrived, 1)
	arrivalOrder = int(arrived)
	release := arrived >= st.expected
	if release {
		st.done = true
		waiters := st.waiters
		st.waiters = nil
		st.mu.Unlock()
		for _, w := range waiters {
			close(w)
		}
		c.forget(barrierID)
		return true, participants, arrivalOrder, nil
	}
	st.mu.Unlock()

	timer := time.NewTimer(c.timeoutFor())
	defer timer.Stop()

	select {
	case <-ch:
		return true, participants, arrivalOrder, nil
	case <-ctx.Done():
		return false, participants, arrivalOrder, ctx.Err()
	case <-timer.C:
		return false, participants, arrivalOrder, strataerr.New(strataerr.Timeout, "Wait", "barrier %q timed out waiting for %d/%d arrivals", barrierID, atomic.LoadInt64(&st.arrived), st.expected)
	}
}

func (c *Coordinator) timeoutFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *Coordinator) getOrCreate(barrierID string, expected int) *state {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.barriers[barrierID]; ok {
		return st
	}
	st := &state{expected: int64(expected)}
	c.barriers[barrierID] = st
	return st
}

func (c *Coordinator) forget(barrierID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.barriers, barrierID)
}

// Status reports a barrier's current arrival count without blocking.
// Returns false if the barrier does not currently exist (never created,
// or already released).
func (c *Coordinator) Status(barrierID string) (arrived, expected int, ok bool) {
	c.mu.Lock()
	st, exists := c.barriers[barrierID]
	c.mu.Unlock()
	if !exists {
		return 0, 0, false
	}
	return int(atomic.LoadInt64(&st.arrived)), int(st.expected), true
}
