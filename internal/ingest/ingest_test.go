package ingest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/netmon/internal/alert"
	"github.com/netmon/internal/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleAt(hostID uint, key string, sec int, value float64) alert.Sample {
	return alert.Sample{HostID: hostID, Key: key, Value: value, Timestamp: t0.Add(time.Duration(sec) * time.Second)}
}

type memRecorder struct {
	mu      sync.Mutex
	metrics []models.Metric
	panicOn string
}

func (r *memRecorder) SaveMetric(_ context.Context, m *models.Metric) error {
	if r.panicOn != "" && m.Key == r.panicOn {
		panic("recorder exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, *m)
	return nil
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.metrics)
}

func newEngine(t *testing.T, triggers ...*models.Trigger) *alert.Engine {
	t.Helper()
	engine := alert.NewEngine(alert.NewMemoryTriggerStore(), nil, nil)
	for _, trig := range triggers {
		require.NoError(t, engine.Registry.Register(context.Background(), trig))
	}
	return engine
}

func trigger(hostID uint, key string, threshold float64, duration int) *models.Trigger {
	return &models.Trigger{
		HostID:     hostID,
		Key:        key,
		Condition:  models.GreaterThan,
		Threshold:  threshold,
		Duration:   duration,
		AlertLevel: models.AlertLevelWarning,
		Enabled:    true,
	}
}

func TestIngress_RejectsInvalidSamples(t *testing.T) {
	in := NewIngress(newEngine(t), nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		sample alert.Sample
	}{
		{"no host", sampleAt(0, "cpu_usage", 0, 1)},
		{"no key", sampleAt(1, "", 0, 1)},
		{"no timestamp", alert.Sample{HostID: 1, Key: "cpu_usage", Value: 1}},
		{"nan", sampleAt(1, "cpu_usage", 0, math.NaN())},
		{"inf", sampleAt(1, "cpu_usage", 0, math.Inf(-1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := in.Ingest(ctx, tt.sample)
			assert.ErrorIs(t, err, ErrInvalidSample)
		})
	}
}

func TestIngress_StaleAndDuplicate(t *testing.T) {
	rec := &memRecorder{}
	engine := newEngine(t, trigger(1, "cpu_usage", 90, 60))
	in := NewIngress(engine, rec)
	ctx := context.Background()

	_, err := in.Ingest(ctx, sampleAt(1, "cpu_usage", 100, 10))
	require.NoError(t, err)

	_, err = in.Ingest(ctx, sampleAt(1, "cpu_usage", 50, 10))
	assert.ErrorIs(t, err, alert.ErrStaleSample)
	assert.ErrorIs(t, in.Check(sampleAt(1, "cpu_usage", 50, 10)), alert.ErrStaleSample)

	_, err = in.Ingest(ctx, sampleAt(1, "cpu_usage", 100, 10))
	require.NoError(t, err)

	assert.Equal(t, 1, rec.count(), "only accepted samples are recorded")
	assert.Len(t, engine.Windows.Snapshot(1, "cpu_usage"), 1)
}

func TestIngress_OpensAndResolves(t *testing.T) {
	engine := newEngine(t, trigger(1, "cpu_usage", 90, 60))
	in := NewIngress(engine, nil)
	ctx := context.Background()

	var all []alert.Transition
	for sec := 0; sec <= 80; sec += 20 {
		out, err := in.Ingest(ctx, sampleAt(1, "cpu_usage", sec, 95))
		require.NoError(t, err)
		all = append(all, out...)
	}
	out, err := in.Ingest(ctx, sampleAt(1, "cpu_usage", 100, 50))
	require.NoError(t, err)
	all = append(all, out...)

	require.Len(t, all, 2)
	assert.Equal(t, models.AlertStatusActive, all[0].Status)
	assert.Equal(t, t0.Add(60*time.Second), all[0].At)
	assert.Equal(t, models.AlertStatusResolved, all[1].Status)
	assert.Equal(t, t0.Add(100*time.Second), all[1].At)
}

func TestPipeline_PreservesPerKeyOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	const keys = 16
	const perKey = 200

	var triggers []*models.Trigger
	for k := 0; k < keys; k++ {
		triggers = append(triggers, trigger(1, fmt.Sprintf("key-%d", k), 1e9, 3600))
	}
	engine := newEngine(t, triggers...)
	p := NewPipeline(NewIngress(engine, nil), Config{Shards: 4, QueueSize: keys * perKey})
	p.Start(context.Background())

	for i := 0; i < perKey; i++ {
		for k := 0; k < keys; k++ {
			require.NoError(t, p.Submit(sampleAt(1, fmt.Sprintf("key-%d", k), i, float64(i))))
		}
	}
	p.Stop()

	for k := 0; k < keys; k++ {
		got := engine.Windows.Snapshot(1, fmt.Sprintf("key-%d", k))
		require.Len(t, got, perKey)
		for i := range got {
			assert.Equal(t, float64(i), got[i].Value)
		}
	}
	assert.Zero(t, p.Depth())
}

func TestPipeline_QueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := newEngine(t)
	p := NewPipeline(NewIngress(engine, nil), Config{Shards: 1, QueueSize: 1})

	require.NoError(t, p.Submit(sampleAt(1, "cpu_usage", 0, 1)))
	assert.ErrorIs(t, p.Submit(sampleAt(1, "cpu_usage", 1, 1)), ErrQueueFull)
	assert.Equal(t, 1, p.Depth())

	p.Start(context.Background())
	p.Stop()

	assert.Len(t, engine.Windows.Snapshot(1, "cpu_usage"), 1)
	assert.ErrorIs(t, p.Submit(sampleAt(1, "cpu_usage", 2, 1)), ErrPipelineClosed)
}

func TestPipeline_RejectsEarly(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := newEngine(t)
	in := NewIngress(engine, nil)
	p := NewPipeline(in, Config{Shards: 2, QueueSize: 8})

	_, err := in.Ingest(context.Background(), sampleAt(1, "cpu_usage", 100, 1))
	require.NoError(t, err)

	assert.ErrorIs(t, p.Submit(sampleAt(1, "cpu_usage", 10, 1)), alert.ErrStaleSample)
	assert.ErrorIs(t, p.Submit(sampleAt(1, "cpu_usage", 110, math.NaN())), ErrInvalidSample)
	assert.Zero(t, p.Depth())
	p.Stop()
}

func TestPipeline_RecoversFromPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := newEngine(t)
	rec := &memRecorder{panicOn: "boom"}
	p := NewPipeline(NewIngress(engine, rec), Config{Shards: 1, QueueSize: 8})
	p.Start(context.Background())

	require.NoError(t, p.Submit(sampleAt(1, "boom", 0, 1)))
	require.NoError(t, p.Submit(sampleAt(1, "cpu_usage", 0, 1)))
	p.Stop()

	assert.Equal(t, 1, rec.count(), "worker keeps running after a panic")
}

func TestPipeline_ShardIsStablePerKey(t *testing.T) {
	p := NewPipeline(NewIngress(newEngine(t), nil), Config{Shards: 8, QueueSize: 1})
	first := p.shardFor(3, "cpu_usage")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.shardFor(3, "cpu_usage"))
	}
	p.Stop()
}
