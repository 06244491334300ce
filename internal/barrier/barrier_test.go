package barrier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReleasesAllOnLastArrival(t *testing.T) {
	c := New()
	const n = 4

	var wg sync.WaitGroup
	released := make([]bool, n)
	participants := make([]int, n)
	orders := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			released[i], participants[i], orders[i], errs[i] = c.Wait(context.Background(), "epoch-0", n)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, released[i])
		assert.Equal(t, n, participants[i])
		assert.GreaterOrEqual(t, orders[i], 1)
		assert.LessOrEqual(t, orders[i], n)
		assert.False(t, seen[orders[i]], "arrival order %d observed twice", orders[i])
		seen[orders[i]] = true
	}
	assert.Len(t, seen, n)
}

func TestWaitTimesOut(t *testing.T) {
	c := New()
	c.SetTimeout(20 * time.Millisecond)

	released, _, _, err := c.Wait(context.Background(), "stuck", 2)
	assert.Error(t, err)
	assert.False(t, released)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())

	type result struct {
		released bool
		err      error
	}
	done := make(chan result, 1)
	go func() {
		released, _, _, err := c.Wait(ctx, "cancel-me", 2)
		done <- result{released, err}
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case r := <-done:
		assert.ErrorIs(t, r.err, context.Canceled)
		assert.False(t, r.released)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestStatusReportsArrivals(t *testing.T) {
	c := New()
	go func() { _, _, _, _ = c.Wait(context.Background(), "b", 2) }()
	require.Eventually(t, func() bool {
		arrived, expected, ok := c.Status("b")
		return ok && expected == 2 && arrived >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestBarrierIsForgottenAfterRelease(t *testing.T) {
	c := New()
	released, participants, arrivalOrder, err := c.Wait(context.Background(), "once", 1)
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, 1, participants)
	assert.Equal(t, 1, arrivalOrder)

	_, _, ok := c.Status("once")
	assert.False(t, ok)
}
