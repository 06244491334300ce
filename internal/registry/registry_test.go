package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syrilj/strata/internal/types"
)

func TestRegisterAssignsDenseRanks(t *testing.T) {
	r := New()
	w0, err := r.Register(types.Worker{ID: "w0"})
	require.NoError(t, err)
	w1, err := r.Register(types.Worker{ID: "w1"})
	require.NoError(t, err)

	assert.Equal(t, 0, w0.Rank)
	assert.Equal(t, 1, w1.Rank)
	assert.Equal(t, 2, r.WorldSize())
}

func TestDeregisterRenumbersRanks(t *testing.T) {
	r := New()
	_, _ = r.Register(types.Worker{ID: "w0"})
	_, _ = r.Register(types.Worker{ID: "w1"})
	_, _ = r.Register(types.Worker{ID: "w2"})

	require.NoError(t, r.Deregister("w1"))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "w0", all[0].ID)
	assert.Equal(t, 0, all[0].Rank)
	assert.Equal(t, "w2", all[1].ID)
	assert.Equal(t, 1, all[1].Rank)
}

func TestHeartbeatRejectsIllegalTransition(t *testing.T) {
	r := New()
	_, _ = r.Register(types.Worker{ID: "w0"})

	err := r.Heartbeat("w0", types.WorkerCheckpointing, 0, 0, types.ResourceMetrics{})
	assert.Error(t, err)
}

func TestHeartbeatAllowsLegalTransition(t *testing.T) {
	r := New()
	_, _ = r.Register(types.Worker{ID: "w0"})

	require.NoError(t, r.Heartbeat("w0", types.WorkerIdle, 0, 0, types.ResourceMetrics{}))
	require.NoError(t, r.Heartbeat("w0", types.WorkerTraining, 10, 1, types.ResourceMetrics{}))

	w, ok := r.Get("w0")
	require.True(t, ok)
	assert.Equal(t, types.WorkerTraining, w.State)
	assert.Equal(t, uint64(10), w.Step)
}

func TestSweepMarksWithoutEvicting(t *testing.T) {
	r := New()
	r.SetHeartbeatTimeout(10 * time.Millisecond)
	var marked []string
	r.SetOnDead(func(id string) { marked = append(marked, id) })

	_, _ = r.Register(types.Worker{ID: "w0"})
	time.Sleep(20 * time.Millisecond)

	r.sweepDead()

	assert.Equal(t, []string{"w0"}, marked)
	assert.Equal(t, 1, r.WorldSize())
	w, ok := r.Get("w0")
	require.True(t, ok)
	assert.Equal(t, types.WorkerDead, w.State)
}

func TestRemoveDeadEvictsAndRenumbersRanks(t *testing.T) {
	r := New()
	r.SetHeartbeatTimeout(10 * time.Millisecond)
	_, _ = r.Register(types.Worker{ID: "w0"})
	_, _ = r.Register(types.Worker{ID: "w1"})
	time.Sleep(20 * time.Millisecond)

	r.sweepDead()
	assert.Equal(t, 2, r.WorldSize())

	removed := r.RemoveDead()
	assert.ElementsMatch(t, []string{"w0", "w1"}, removed)
	assert.Equal(t, 0, r.WorldSize())
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := New()
	_, err := r.Register(types.Worker{ID: "w0"})
	require.NoError(t, err)

	_, err = r.Register(types.Worker{ID: "w0"})
	assert.Error(t, err)
	assert.Equal(t, 1, r.WorldSize())
}

func TestRegisterRejectsOverCapacity(t *testing.T) {
	r := New()
	r.SetMaxWorldSize(1)
	_, err := r.Register(types.Worker{ID: "w0"})
	require.NoError(t, err)

	_, err = r.Register(types.Worker{ID: "w1"})
	assert.Error(t, err)
	assert.Equal(t, 1, r.WorldSize())
}

func TestActiveExcludesDeadAndDisconnecting(t *testing.T) {
	r := New()
	_, _ = r.Register(types.Worker{ID: "w0"})
	_, _ = r.Register(types.Worker{ID: "w1"})
	require.NoError(t, r.Heartbeat("w0", types.WorkerIdle, 0, 0, types.ResourceMetrics{}))
	require.NoError(t, r.Heartbeat("w1", types.WorkerIdle, 0, 0, types.ResourceMetrics{}))
	require.NoError(t, r.Heartbeat("w1", types.WorkerDisconnecting, 0, 0, types.ResourceMetrics{}))

	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "w0", active[0].ID)
}
