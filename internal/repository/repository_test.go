package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmon/internal/alert"
	"github.com/netmon/internal/database"
	"github.com/netmon/internal/models"
)

var (
	_ alert.TriggerStore = (*Repository)(nil)
	_ alert.AlertStore   = (*Repository)(nil)
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "netmon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return New(db)
}

func createUser(t *testing.T, r *Repository, name string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", Role: role, IsActive: true}
	require.NoError(t, u.SetPassword("secret"))
	u.RotateAPIKey()
	require.NoError(t, r.CreateUser(context.Background(), u))
	return u
}

func createHost(t *testing.T, r *Repository, name string, owner uint) *models.Host {
	t.Helper()
	h := &models.Host{Name: name, IPAddress: "10.0.0.1", Status: models.HostStatusOnline, UserID: owner, Tags: []string{"agent"}}
	require.NoError(t, r.CreateHost(context.Background(), h))
	return h
}

func TestRepository_Users(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)
	u := createUser(t, r, "alice", models.RoleUser)

	got, err := r.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, got.CheckPassword("secret"))

	got, err = r.UserByAPIKey(ctx, u.ApiKey)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = r.UserByAPIKey(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.UserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.DeleteUser(ctx, u.ID))
	assert.ErrorIs(t, r.DeleteUser(ctx, u.ID), ErrNotFound)
}

func TestRepository_HostScope(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)
	alice := createUser(t, r, "alice", models.RoleUser)
	bob := createUser(t, r, "bob", models.RoleUser)
	admin := createUser(t, r, "root", models.RoleAdmin)

	h1 := createHost(t, r, "web-1", alice.ID)
	h2 := createHost(t, r, "db-1", bob.ID)

	scope, err := r.HostScope(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []uint{h1.ID}, scope.HostIDs)

	_, err = r.HostByID(ctx, scope, h2.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := r.HostByID(ctx, scope, h1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"agent"}, got.Tags)

	adminScope, err := r.HostScope(ctx, admin)
	require.NoError(t, err)
	n, err := r.CountHosts(ctx, adminScope)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	empty, err := r.HostScope(ctx, createUser(t, r, "carol", models.RoleViewer))
	require.NoError(t, err)
	n, err = r.CountHosts(ctx, empty)
	require.NoError(t, err)
	assert.Zero(t, n)

	hosts, err := r.ListHosts(ctx, bob.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "db-1", hosts[0].Name)
}

func TestRepository_HeartbeatAndDelete(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)
	u := createUser(t, r, "alice", models.RoleUser)
	h := createHost(t, r, "web-1", u.ID)

	require.NoError(t, r.Heartbeat(ctx, h.ID, t0))
	got, err := r.HostByID(ctx, All, h.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HostStatusOnline, got.Status)
	require.NotNil(t, got.LastSeen)
	assert.True(t, got.LastSeen.Equal(t0))

	require.NoError(t, r.CreateTrigger(ctx, &models.Trigger{
		HostID: h.ID, Key: "cpu_usage", Condition: models.GreaterThan, Threshold: 90, AlertLevel: models.AlertLevelWarning, Enabled: true,
	}))
	require.NoError(t, r.DeleteHost(ctx, h.ID))

	_, err = r.HostByID(ctx, All, h.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	triggers, err := r.LoadTriggers(ctx, h.ID)
	require.NoError(t, err)
	assert.Empty(t, triggers)

	assert.ErrorIs(t, r.DeleteHost(ctx, h.ID), ErrNotFound)
	assert.ErrorIs(t, r.Heartbeat(ctx, 999, t0), ErrNotFound)
}

func TestRepository_Triggers(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	trig := &models.Trigger{
		HostID:     1,
		Name:       "High CPU",
		Key:        "cpu_usage",
		Condition:  models.NotEqual,
		Threshold:  90,
		Duration:   60,
		AlertLevel: models.AlertLevelCritical,
		Enabled:    true,
	}
	require.NoError(t, r.CreateTrigger(ctx, trig))

	trig.Enabled = false
	trig.Threshold = 0
	require.NoError(t, r.UpdateTrigger(ctx, trig))

	loaded, err := r.LoadTriggers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, models.NotEqual, loaded[0].Condition)
	assert.False(t, loaded[0].Enabled, "zero values are written")
	assert.Zero(t, loaded[0].Threshold)

	require.NoError(t, r.DeleteTrigger(ctx, trig.ID))
	assert.ErrorIs(t, r.DeleteTrigger(ctx, trig.ID), ErrNotFound)
	missing := *trig
	missing.ID = 999
	assert.ErrorIs(t, r.UpdateTrigger(ctx, &missing), ErrNotFound)
}

func TestRepository_RegistryRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	reg := alert.NewRegistry(r)
	require.NoError(t, reg.CreateDefaults(ctx, 7))

	fresh := alert.NewRegistry(r)
	n, err := fresh.LoadHost(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, fresh.TriggersFor(7, "cpu_usage"), 1)
}

func TestRepository_AlertLifecycle(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	tid := uint(3)
	a := &models.Alert{
		Ref:         "9b2f4d0e-1111-4000-8000-000000000001",
		TriggerID:   &tid,
		HostID:      1,
		Key:         "cpu_usage",
		Title:       "High CPU",
		Level:       models.AlertLevelWarning,
		Status:      models.AlertStatusActive,
		Value:       95,
		Threshold:   90,
		TriggeredAt: t0,
	}
	require.NoError(t, r.SaveAlert(ctx, a))
	require.NotZero(t, a.ID)

	active, err := r.ActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.Ref, active[0].Ref)

	resolvedAt := t0.Add(time.Minute)
	update := models.Alert{Ref: a.Ref, Status: models.AlertStatusResolved, ResolvedAt: &resolvedAt}
	require.NoError(t, r.UpdateAlert(ctx, &update))

	got, err := r.AlertByID(ctx, All, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(resolvedAt))

	active, err = r.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, r.UpdateAlert(ctx, &models.Alert{Ref: "missing"}), ErrNotFound)
	_, err = r.AlertByID(ctx, Scope{HostIDs: []uint{2}}, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_ManagerPersistsThroughGorm(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)
	m := alert.NewManager(r, nil)

	trig := &models.Trigger{HostID: 1, Key: "cpu_usage", Condition: models.GreaterThan, Threshold: 90, AlertLevel: models.AlertLevelWarning}
	trig.ID = 4

	opened, err := m.Open(ctx, trig, trig.AlertLevel, 95, t0)
	require.NoError(t, err)
	require.NotZero(t, opened.ID)

	_, err = m.Resolve(ctx, opened.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, m.Pending())

	stored, err := r.AlertByID(ctx, All, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, stored.Status)
}

func TestRepository_ListAlertsAndStats(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	trig := &models.Trigger{HostID: 1, Name: "High CPU", Key: "cpu_usage", Condition: models.GreaterThan, Threshold: 90, AlertLevel: models.AlertLevelCritical}
	require.NoError(t, r.CreateTrigger(ctx, trig))

	for i := 0; i < 5; i++ {
		a := &models.Alert{
			Ref:         "ref-" + string(rune('a'+i)),
			TriggerID:   &trig.ID,
			HostID:      uint(1 + i%2),
			Key:         "cpu_usage",
			Level:       models.AlertLevelCritical,
			Status:      models.AlertStatusActive,
			TriggeredAt: t0.Add(time.Duration(i) * time.Minute),
		}
		if i < 2 {
			a.Status = models.AlertStatusResolved
		}
		require.NoError(t, r.SaveAlert(ctx, a))
	}

	all, err := r.ListAlerts(ctx, All, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "ref-e", all[0].Ref, "newest first")

	host1, err := r.ListAlerts(ctx, All, AlertFilter{HostID: 1, Status: models.AlertStatusActive})
	require.NoError(t, err)
	assert.Len(t, host1, 2)

	scoped, err := r.ListAlerts(ctx, Scope{HostIDs: []uint{2}}, AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, scoped, 2)

	counts, err := r.AlertCounts(ctx, All)
	require.NoError(t, err)
	byStatus := map[models.AlertStatus]int64{}
	for _, c := range counts {
		byStatus[c.Status] += c.Count
	}
	assert.Equal(t, int64(3), byStatus[models.AlertStatusActive])
	assert.Equal(t, int64(2), byStatus[models.AlertStatusResolved])

	top, err := r.TopTriggers(ctx, All, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, trig.ID, top[0].TriggerID)
	assert.Equal(t, "High CPU", top[0].Name)
	assert.Equal(t, int64(5), top[0].Count)
}

func TestRepository_Metrics(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	for i := 0; i < 3; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, r.SaveMetric(ctx, &models.Metric{HostID: 1, Key: "cpu_usage", Value: float64(10 * i), Timestamp: ts}))
		require.NoError(t, r.SaveMetric(ctx, &models.Metric{HostID: 1, Key: "memory_usage", Value: float64(20 * i), Timestamp: ts}))
	}
	require.NoError(t, r.SaveMetric(ctx, &models.Metric{HostID: 2, Key: "cpu_usage", Value: 99, Timestamp: t0}))

	list, err := r.ListMetrics(ctx, All, MetricFilter{HostID: 1, Key: "cpu_usage"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 20.0, list[0].Value)

	limited, err := r.ListMetrics(ctx, Scope{HostIDs: []uint{2}}, MetricFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	latest, err := r.LatestMetrics(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "cpu_usage", latest[0].Key)
	assert.Equal(t, 20.0, latest[0].Value)
	assert.Equal(t, "memory_usage", latest[1].Key)
	assert.Equal(t, 40.0, latest[1].Value)
}

func TestRepository_MetricsBetween(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.SaveMetric(ctx, &models.Metric{HostID: 1, Key: "cpu_usage", Value: float64(i), Timestamp: t0.Add(time.Duration(i) * time.Minute)}))
	}

	got, err := r.MetricsBetween(ctx, 1, "cpu_usage", t0.Add(time.Minute), t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1.0, got[0].Value)
	assert.Equal(t, 3.0, got[2].Value)
}
