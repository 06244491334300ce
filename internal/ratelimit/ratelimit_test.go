package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(1, 3)
	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("client-1")
		assert.True(t, ok)
	}
}

func TestAllowRejectsBeyondBurst(t *testing.T) {
	l := New(1, 1)
	ok, _ := l.Allow("client-1")
	require.True(t, ok)

	ok, retryAfter := l.Allow("client-1")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestClientsAreIndependent(t *testing.T) {
	l := New(1, 1)
	ok1, _ := l.Allow("client-1")
	ok2, _ := l.Allow("client-2")
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestSweepEvictsIdleClients(t *testing.T) {
	l := New(1, 1)
	l.idleTimeout = 10 * time.Millisecond
	l.Allow("client-1")
	require.Equal(t, 1, l.ClientCount())

	time.Sleep(20 * time.Millisecond)
	l.sweep()

	assert.Equal(t, 0, l.ClientCount())
}
