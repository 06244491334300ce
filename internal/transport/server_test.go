package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syrilj/strata/internal/barrier"
	"github.com/syrilj/strata/internal/checkpoint"
	"github.com/syrilj/strata/internal/ratelimit"
	"github.com/syrilj/strata/internal/registry"
	"github.com/syrilj/strata/internal/shard"
	"github.com/syrilj/strata/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	backend, err := storage.NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)

	return New(
		registry.New(),
		shard.NewManager(42),
		checkpoint.NewManager(backend, checkpoint.Config{}),
		barrier.New(),
		ratelimit.New(1000, 1000),
	)
}

func TestRegisterWorkerThenListWorkers(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(registerWorkerRequest{ID: "worker-1", Hostname: "10.0.0.1", Port: 9000, GPUCount: 4})
	resp, err := http.Post(ts.URL+"/workers/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp, err := http.Get(ts.URL + "/workers/")
	require.NoError(t, err)
	defer listResp.Body.Close()
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
}

func TestRegisterWorkerRejectsBadID(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(registerWorkerRequest{ID: "bad id with spaces", Port: 9000})
	resp, err := http.Post(ts.URL+"/workers/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterDatasetThenAssignShard(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	regBody, _ := json.Marshal(registerWorkerRequest{ID: "worker-1", Port: 9000})
	resp, err := http.Post(ts.URL+"/workers/register", "application/json", bytes.NewReader(regBody))
	require.NoError(t, err)
	resp.Body.Close()

	dsBody, _ := json.Marshal(registerDatasetRequest{ID: "ds-1", Path: "/data/ds", TotalCount: 1000, ShardSize: 100})
	resp, err = http.Post(ts.URL+"/datasets/", "application/json", bytes.NewReader(dsBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	shardResp, err := http.Get(ts.URL + "/datasets/ds-1/workers/worker-1/shard?epoch=0")
	require.NoError(t, err)
	defer shardResp.Body.Close()
	assert.Equal(t, http.StatusOK, shardResp.StatusCode)

	shardsResp, err := http.Get(ts.URL + "/datasets/ds-1/workers/worker-1/shards?epoch=0")
	require.NoError(t, err)
	defer shardsResp.Body.Close()
	assert.Equal(t, http.StatusOK, shardsResp.StatusCode)
}

func TestGetLatestCheckpointNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/checkpoints/latest?worker_id=worker-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotifyCheckpointThenGetLatest(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(notifyCheckpointRequest{Step: 10, Epoch: 1, Path: "checkpoints/ckpt-10.bin", SizeBytes: 2048})
	resp, err := http.Post(ts.URL+"/checkpoints/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	latestResp, err := http.Get(ts.URL + "/checkpoints/latest?worker_id=worker-1")
	require.NoError(t, err)
	defer latestResp.Body.Close()
	assert.Equal(t, http.StatusOK, latestResp.StatusCode)
}

func TestRateLimitRejectsOverBurst(t *testing.T) {
	backend, err := storage.NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	srv := New(registry.New(), shard.NewManager(42), checkpoint.NewManager(backend, checkpoint.Config{}), barrier.New(), ratelimit.New(0.001, 1))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := &http.Client{}
	req1, _ := http.NewRequest(http.MethodGet, ts.URL+"/workers/", nil)
	req1.Header.Set("X-Client-ID", "same-client")
	resp1, err := client.Do(req1)
	require.NoError(t, err)
	resp1.Body.Close()
	assert.Equal(t, http.StatusOK, resp1.StatusCode)

	req2, _ := http.NewRequest(http.MethodGet, ts.URL+"/workers/", nil)
	req2.Header.Set("X-Client-ID", "same-client")
	resp2, err := client.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp2.StatusCode)
}

func TestWaitBarrierReleasesAllWithDistinctArrivalOrder(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	const n = 3
	for i := 0; i < n; i++ {
		body, _ := json.Marshal(registerWorkerRequest{ID: fmt.Sprintf("worker-%d", i), Port: 9000 + i})
		resp, err := http.Post(ts.URL+"/workers/register", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
	}

	var wg sync.WaitGroup
	responses := make([]barrierResponse, n)
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, _ := json.Marshal(waitBarrierRequest{WorkerID: fmt.Sprintf("worker-%d", i)})
			resp, err := http.Post(ts.URL+"/barriers/epoch-0/wait", "application/json", bytes.NewReader(body))
			require.NoError(t, err)
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&responses[i]))
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, http.StatusOK, statuses[i])
		assert.True(t, responses[i].Released)
		assert.Equal(t, n, responses[i].Participants)
		assert.GreaterOrEqual(t, responses[i].ArrivalOrder, 1)
		assert.LessOrEqual(t, responses[i].ArrivalOrder, n)
		seen[responses[i].ArrivalOrder] = true
	}
	assert.Len(t, seen, n)
}
