package alert

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmon/internal/models"
)

func TestValidate(t *testing.T) {
	maxDuration := models.MaxTriggerDuration
	tenBillion := int64(10_000_000_000)
	tests := []struct {
		name   string
		mutate func(*models.Trigger)
		valid  bool
	}{
		{"valid", func(*models.Trigger) {}, true},
		{"zero duration", func(tr *models.Trigger) { tr.Duration = 0 }, true},
		{"negative duration", func(tr *models.Trigger) { tr.Duration = -1 }, false},
		{"longest duration", func(tr *models.Trigger) { tr.Duration = int(maxDuration) }, true},
		{"duration overflows", func(tr *models.Trigger) { tr.Duration = int(maxDuration + 1) }, false},
		{"duration of ten billion seconds", func(tr *models.Trigger) { tr.Duration = int(tenBillion) }, false},
		{"unknown condition", func(tr *models.Trigger) { tr.Condition = models.ConditionInvalid }, false},
		{"empty key", func(tr *models.Trigger) { tr.Key = "" }, false},
		{"no host", func(tr *models.Trigger) { tr.HostID = 0 }, false},
		{"nan threshold", func(tr *models.Trigger) { tr.Threshold = math.NaN() }, false},
		{"inf threshold", func(tr *models.Trigger) { tr.Threshold = math.Inf(1) }, false},
		{"unknown level", func(tr *models.Trigger) { tr.AlertLevel = "loud" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := cpuTrigger(1, 90, 60)
			tt.mutate(trig)
			err := Validate(trig)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTrigger)
			}
		})
	}
}

func TestRegistry_RegisterInvalidIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTriggerStore()
	r := NewRegistry(store)

	trig := cpuTrigger(1, 90, -5)
	assert.ErrorIs(t, r.Register(ctx, trig), ErrInvalidTrigger)

	stored, err := store.LoadTriggers(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, r.List(0))
}

func TestRegistry_RejectsOverflowingDuration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTriggerStore()
	r := NewRegistry(store)

	huge := models.MaxTriggerDuration + 1
	trig := cpuTrigger(1, 90, int(huge))
	assert.ErrorIs(t, r.Register(ctx, trig), ErrInvalidTrigger)
	stored, err := store.LoadTriggers(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, stored)

	ok := cpuTrigger(1, 90, 60)
	require.NoError(t, r.Register(ctx, ok))
	d := int(huge)
	_, err = r.Update(ctx, ok.ID, models.TriggerPatch{Duration: &d})
	assert.ErrorIs(t, err, ErrInvalidTrigger)
	assert.Equal(t, 60*time.Second, r.MaxDuration(1, "cpu_usage"), "rejected update must not widen the window")
}

func TestRegistry_UpdateIsPartial(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(NewMemoryTriggerStore())
	trig := cpuTrigger(1, 90, 60)
	require.NoError(t, r.Register(ctx, trig))

	threshold := 75.0
	updated, err := r.Update(ctx, trig.ID, models.TriggerPatch{Threshold: &threshold})
	require.NoError(t, err)
	assert.Equal(t, 75.0, updated.Threshold)
	assert.Equal(t, 60, updated.Duration)
	assert.Equal(t, "High CPU", updated.Name)

	got, err := r.Get(trig.ID)
	require.NoError(t, err)
	assert.Equal(t, 75.0, got.Threshold)

	bad := -1
	_, err = r.Update(ctx, trig.ID, models.TriggerPatch{Duration: &bad})
	assert.ErrorIs(t, err, ErrInvalidTrigger)
	got, _ = r.Get(trig.ID)
	assert.Equal(t, 60, got.Duration, "failed update leaves the trigger unchanged")

	_, err = r.Update(ctx, 999, models.TriggerPatch{Threshold: &threshold})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_TriggersForAndMaxDuration(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(NewMemoryTriggerStore())

	a := cpuTrigger(1, 90, 60)
	b := cpuTrigger(1, 80, 300)
	c := cpuTrigger(2, 90, 900)
	require.NoError(t, r.Register(ctx, a))
	require.NoError(t, r.Register(ctx, b))
	require.NoError(t, r.Register(ctx, c))

	assert.Len(t, r.TriggersFor(1, "cpu_usage"), 2)
	assert.Equal(t, 300*time.Second, r.MaxDuration(1, "cpu_usage"))
	assert.Equal(t, 900*time.Second, r.MaxDuration(2, "cpu_usage"))
	assert.Zero(t, r.MaxDuration(1, "memory_usage"))

	_, err := r.Disable(ctx, b.ID)
	require.NoError(t, err)
	got := r.TriggersFor(1, "cpu_usage")
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, 300*time.Second, r.MaxDuration(1, "cpu_usage"), "disabled triggers keep history")

	_, err = r.Enable(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, r.TriggersFor(1, "cpu_usage"), 2)
}

func TestRegistry_Delete(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(NewMemoryTriggerStore())
	trig := cpuTrigger(1, 90, 60)
	require.NoError(t, r.Register(ctx, trig))

	require.NoError(t, r.Delete(ctx, trig.ID))
	_, err := r.Get(trig.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, r.TriggersFor(1, "cpu_usage"))
	assert.ErrorIs(t, r.Delete(ctx, trig.ID), ErrNotFound)
}

func TestRegistry_LoadAndForgetHost(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTriggerStore()
	require.NoError(t, store.CreateTrigger(ctx, cpuTrigger(1, 90, 60)))
	require.NoError(t, store.CreateTrigger(ctx, cpuTrigger(1, 95, 120)))
	require.NoError(t, store.CreateTrigger(ctx, cpuTrigger(2, 95, 120)))

	r := NewRegistry(store)
	n, err := r.LoadHost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, r.List(1), 2)
	assert.Empty(t, r.List(2))

	r.ForgetHost(1)
	assert.Empty(t, r.List(0))
}

func TestRegistry_ExportImport(t *testing.T) {
	ctx := context.Background()
	src := NewRegistry(NewMemoryTriggerStore())
	require.NoError(t, src.CreateDefaults(ctx, 1))
	require.Len(t, src.List(1), 3)

	var buf bytes.Buffer
	require.NoError(t, src.Export(&buf, 1))
	assert.Contains(t, buf.String(), `"condition": ">"`)

	dst := NewRegistry(NewMemoryTriggerStore())
	imported, err := dst.Import(ctx, &buf, 5)
	require.NoError(t, err)
	require.Len(t, imported, 3)
	for _, trig := range dst.List(0) {
		assert.Equal(t, uint(5), trig.HostID)
		assert.NotZero(t, trig.ID)
	}
	assert.Equal(t, 600*time.Second, dst.MaxDuration(5, "disk_usage"))
}

func TestRegistry_ImportRejectsInvalidBatch(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(NewMemoryTriggerStore())

	payload := `[
		{"key": "cpu_usage", "condition": ">", "threshold": 90, "duration": 60, "alert_level": "warning"},
		{"key": "cpu_usage", "condition": ">", "threshold": 90, "duration": -1, "alert_level": "warning"}
	]`
	_, err := r.Import(ctx, bytes.NewBufferString(payload), 1)
	assert.ErrorIs(t, err, ErrInvalidTrigger)
	assert.Empty(t, r.List(0))

	_, err = r.Import(ctx, bytes.NewBufferString(`[{"condition": ">="}]`), 1)
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}
