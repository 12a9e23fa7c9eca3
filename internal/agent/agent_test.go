package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/jarcoal/httpmock"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmon/internal/api/client"
)

const apiURL = "http://netmon.test"

func newMockAPI(t *testing.T) (*client.Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	c, err := client.New(apiURL, "nm_key", client.WithHTTPClient(&http.Client{Transport: mt}))
	require.NoError(t, err)
	return c, mt
}

type staticSource struct {
	name     string
	readings []Reading
	failures int32
	calls    atomic.Int32
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Collect(context.Context) ([]Reading, error) {
	if n := s.calls.Add(1); n <= s.failures {
		return nil, errors.New("not ready")
	}
	return s.readings, nil
}

func testConfig() Config {
	return Config{HostName: "agent-host", HostIP: "127.0.0.1", Tags: []string{"agent"}, Interval: time.Hour, RetryDelay: -1}
}

func TestAgent_RegisterFindsExistingHost(t *testing.T) {
	api, mt := newMockAPI(t)
	mt.RegisterResponder(http.MethodGet, apiURL+"/api/v1/hosts",
		httpmock.NewStringResponder(http.StatusOK, `[{"ID":4,"name":"other"},{"ID":7,"name":"agent-host"}]`))

	a := New(api, testConfig())
	id, err := a.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(7), id)
	assert.Equal(t, uint(7), a.HostID())
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestAgent_RegisterCreatesHost(t *testing.T) {
	api, mt := newMockAPI(t)
	mt.RegisterResponder(http.MethodGet, apiURL+"/api/v1/hosts",
		httpmock.NewStringResponder(http.StatusOK, `[]`))
	mt.RegisterResponder(http.MethodPost, apiURL+"/api/v1/hosts",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "agent-host", body["name"])
			assert.Equal(t, "127.0.0.1", body["ip_address"])
			return httpmock.NewStringResponse(http.StatusCreated, `{"ID":12,"name":"agent-host"}`), nil
		})

	a := New(api, testConfig())
	id, err := a.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(12), id)
}

func TestAgent_TickPushesAndHeartbeats(t *testing.T) {
	api, mt := newMockAPI(t)
	var pushed []client.Sample
	mt.RegisterResponder(http.MethodPost, apiURL+"/api/v1/metrics/batch",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				Samples []client.Sample `json:"samples"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			pushed = append(pushed, body.Samples...)
			return httpmock.NewJsonResponse(http.StatusAccepted, map[string]any{"accepted": len(body.Samples), "rejected": 0})
		})
	mt.RegisterResponder(http.MethodPost, apiURL+"/api/v1/hosts/3/heartbeat",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"online"}`))

	flaky := &staticSource{name: "flaky", failures: 1, readings: []Reading{{Key: "disk_usage", Value: 40}}}
	steady := &staticSource{name: "steady", readings: []Reading{{Key: "cpu_usage", Value: 12.5}, {Key: "memory_usage", Value: 55}}}
	a := New(api, testConfig(), flaky, steady)
	a.setHost(3)

	require.NoError(t, a.Tick(context.Background()))

	require.Len(t, pushed, 3)
	keys := map[string]float64{}
	for _, s := range pushed {
		assert.Equal(t, uint(3), s.HostID)
		require.NotNil(t, s.Timestamp)
		keys[s.Key] = s.Value
	}
	assert.Equal(t, map[string]float64{"disk_usage": 40, "cpu_usage": 12.5, "memory_usage": 55}, keys)
	assert.Equal(t, int32(2), flaky.calls.Load())

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.Ticks)
	assert.Equal(t, uint64(3), stats.SamplesPushed)
	assert.Zero(t, stats.FailedTicks)
	assert.Equal(t, 1, mt.GetCallCountInfo()["POST "+apiURL+"/api/v1/hosts/3/heartbeat"])
}

func TestAgent_TickSplitsLargeBatches(t *testing.T) {
	api, mt := newMockAPI(t)
	var batches []int
	mt.RegisterResponder(http.MethodPost, apiURL+"/api/v1/metrics/batch",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				Samples []client.Sample `json:"samples"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			batches = append(batches, len(body.Samples))
			return httpmock.NewJsonResponse(http.StatusAccepted, map[string]any{"accepted": len(body.Samples)})
		})
	mt.RegisterResponder(http.MethodPost, apiURL+"/api/v1/hosts/1/heartbeat",
		httpmock.NewStringResponder(http.StatusOK, `{}`))

	readings := make([]Reading, 250)
	for i := range readings {
		readings[i] = Reading{Key: "k", Value: float64(i)}
	}
	a := New(api, testConfig(), &staticSource{name: "bulk", readings: readings})
	a.setHost(1)

	require.NoError(t, a.Tick(context.Background()))
	assert.Equal(t, []int{100, 100, 50}, batches)
}

func TestAgent_TickReportsServerErrors(t *testing.T) {
	api, mt := newMockAPI(t)
	mt.RegisterResponder(http.MethodPost, apiURL+"/api/v1/metrics/batch",
		httpmock.NewStringResponder(http.StatusTooManyRequests, `{"error":"rate limit exceeded"}`))
	mt.RegisterResponder(http.MethodPost, apiURL+"/api/v1/hosts/1/heartbeat",
		httpmock.NewStringResponder(http.StatusOK, `{}`))

	a := New(api, testConfig(), &staticSource{name: "s", readings: []Reading{{Key: "cpu_usage", Value: 1}}})
	a.setHost(1)

	err := a.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, client.StatusCode(err))
	assert.Equal(t, uint64(1), a.Stats().FailedTicks)
	assert.Equal(t, uint64(1), a.Stats().SamplesDropped)
}

func TestAgent_TickRequiresRegistration(t *testing.T) {
	api, _ := newMockAPI(t)
	assert.Error(t, New(api, testConfig()).Tick(context.Background()))
}

func TestAgent_NonPositiveRetryAttemptsStillCollect(t *testing.T) {
	api, _ := newMockAPI(t)
	for _, attempts := range []int{0, -2} {
		cfg := testConfig()
		cfg.RetryAttempts = attempts
		src := &staticSource{name: "flaky", readings: []Reading{{Key: "cpu_usage", Value: 1}}, failures: 1}
		a := New(api, cfg, src)
		assert.Equal(t, retryAttempts, a.cfg.RetryAttempts)

		readings, err := a.collectWithRetry(context.Background(), src)
		require.NoError(t, err)
		assert.Len(t, readings, 1)
		assert.Equal(t, int32(2), src.calls.Load())
	}
}

func TestAgent_RunStopsOnCancel(t *testing.T) {
	api, mt := newMockAPI(t)
	mt.RegisterResponder(http.MethodGet, apiURL+"/api/v1/hosts",
		httpmock.NewStringResponder(http.StatusOK, `[{"ID":2,"name":"agent-host"}]`))
	mt.RegisterResponder(http.MethodPost, apiURL+"/api/v1/metrics/batch",
		httpmock.NewStringResponder(http.StatusAccepted, `{"accepted":5}`))
	mt.RegisterResponder(http.MethodPost, apiURL+"/api/v1/hosts/2/heartbeat",
		httpmock.NewStringResponder(http.StatusOK, `{}`))

	a := New(api, testConfig(), NewRandomSource(1))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Stats().Ticks == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestRandomSource(t *testing.T) {
	readings, err := NewRandomSource(42).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 5)
	for _, r := range readings {
		assert.GreaterOrEqual(t, r.Value, 0.0)
		if r.Key == "network_in" || r.Key == "network_out" {
			assert.Less(t, r.Value, 1000.0)
		} else {
			assert.Less(t, r.Value, 100.0)
		}
	}
}

func TestSystemSource_NetworkRates(t *testing.T) {
	s := NewSystemSource("/")
	start := time.Now()
	assert.Empty(t, s.networkRates(net.IOCountersStat{BytesRecv: 1000, BytesSent: 500}, start))

	rates := s.networkRates(net.IOCountersStat{BytesRecv: 3000, BytesSent: 1500}, start.Add(2*time.Second))
	require.Len(t, rates, 2)
	assert.Equal(t, Reading{Key: "network_in", Value: 1000}, rates[0])
	assert.Equal(t, Reading{Key: "network_out", Value: 500}, rates[1])

	// counter reset
	assert.Empty(t, s.networkRates(net.IOCountersStat{BytesRecv: 10, BytesSent: 10}, start.Add(4*time.Second)))
}

func TestNewSource(t *testing.T) {
	src, err := NewSource("random")
	require.NoError(t, err)
	assert.Equal(t, "random", src.Name())

	_, err = NewSource("snmp")
	assert.Error(t, err)
}

type fakeDocker struct {
	containers []types.Container
	stats      map[string]types.StatsJSON
}

func (f *fakeDocker) ContainerList(context.Context, types.ContainerListOptions) ([]types.Container, error) {
	return f.containers, nil
}

func (f *fakeDocker) ContainerStats(_ context.Context, id string, _ bool) (types.ContainerStats, error) {
	raw, err := json.Marshal(f.stats[id])
	if err != nil {
		return types.ContainerStats{}, err
	}
	return types.ContainerStats{Body: io.NopCloser(bytes.NewReader(raw))}, nil
}

func TestDockerSource_Collect(t *testing.T) {
	var stats types.StatsJSON
	stats.CPUStats.CPUUsage.TotalUsage = 400
	stats.PreCPUStats.CPUUsage.TotalUsage = 200
	stats.CPUStats.SystemUsage = 2000
	stats.PreCPUStats.SystemUsage = 1000
	stats.CPUStats.OnlineCPUs = 2
	stats.MemoryStats.Usage = 256
	stats.MemoryStats.Limit = 1024

	src := &DockerSource{docker: &fakeDocker{
		containers: []types.Container{
			{ID: "abc123", Names: []string{"/web"}, State: "running"},
			{ID: "def456", Names: []string{"/batch"}, State: "exited"},
		},
		stats:      map[string]types.StatsJSON{"abc123": stats},
	}}

	readings, err := src.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 4)
	assert.Equal(t, "container.web.cpu_usage", readings[0].Key)
	assert.InDelta(t, 40.0, readings[0].Value, 1e-9)
	assert.Equal(t, "container.web.memory_usage", readings[1].Key)
	assert.InDelta(t, 25.0, readings[1].Value, 1e-9)
	assert.Equal(t, Reading{Key: "containers_running", Value: 1}, readings[2])
	assert.Equal(t, Reading{Key: "containers_total", Value: 2}, readings[3])
}
