// Package ratelimit enforces a per-client token-bucket limit on RPC
// traffic, evicting idle clients so the limiter map doesn't grow
// unboundedly over a long-running coordinator's lifetime.
//
// Grounded on the rate-limiting idiom golang.org/x/time/rate documents
// for per-key limiters (one *rate.Limiter per client ID, guarded by a
// mutex); the idle-sweep loop follows the same ticker-plus-mutex shape as
// johnjansen-torua's health_monitor.go.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTimeout is how long a client's limiter survives with no
// requests before the sweep evicts it.
const DefaultIdleTimeout = 300 * time.Second

// DefaultSweepInterval bounds how often the sweep scans for idle entries.
const DefaultSweepInterval = 60 * time.Second

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces a requests-per-second rate per client key.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*entry

	rps         rate.Limit
	burst       int
	idleTimeout time.Duration
}

// New creates a Limiter allowing rps requests per second per client, with
// a burst allowance of burst.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		clients:     make(map[string]*entry),
		rps:         rate.Limit(rps),
		burst:       burst,
		idleTimeout: DefaultIdleTimeout,
	}
}

// Allow reports whether clientID may proceed now. On rejection it also
// returns the delay the client should wait before retrying.
func (l *Limiter) Allow(clientID string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	e, exists := l.clients[clientID]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[clientID] = e
	}
	e.lastSeen = time.Now()
	lim := e.limiter
	l.mu.Unlock()

	reservation := lim.Reserve()
	if !reservation.OK() {
		return false, 0
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return false, delay
	}
	return true, 0
}

// sweep evicts clients whose last request predates the idle timeout.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.idleTimeout)
	for id, e := range l.clients {
		if e.lastSeen.Before(cutoff) {
			delete(l.clients, id)
		}
	}
}

// Run starts the idle-eviction sweep loop, blocking until ctx is canceled.
// Intended as one leg of an errgroup in cmd/coordinator.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// ClientCount returns the number of clients currently tracked, for
// dashboard/telemetry reporting.
func (l *Limiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
