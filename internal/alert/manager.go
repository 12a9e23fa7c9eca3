package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netmon/internal/logger"
	"github.com/netmon/internal/metrics"
	"github.com/netmon/internal/models"
	"github.com/netmon/internal/notify"
)

// AlertStore is the durable copy of alerts. UpdateAlert matches on Ref so an
// alert can be updated before the store has assigned its numeric id.
type AlertStore interface {
	SaveAlert(ctx context.Context, a *models.Alert) error
	UpdateAlert(ctx context.Context, a *models.Alert) error
	ActiveAlerts(ctx context.Context) ([]models.Alert, error)
}

// Notifier receives every lifecycle transition.
type Notifier interface {
	Notify(n notify.Notification)
}

// Manager owns the lifecycle of alerts: at most one active alert per trigger,
// and only the active -> resolved transition.
type Manager struct {
	store    AlertStore
	notifier Notifier
	log      zerolog.Logger

	mu        sync.Mutex
	active    map[string]*models.Alert // by ref
	byTrigger map[uint]string          // trigger id -> ref

	outbox *outbox
}

func NewManager(store AlertStore, notifier Notifier) *Manager {
	return &Manager{
		store:     store,
		notifier:  notifier,
		log:       logger.WithComponent("alert_manager"),
		active:    make(map[string]*models.Alert),
		byTrigger: make(map[uint]string),
		outbox:    &outbox{},
	}
}

// Restore loads the active alerts from the store, typically at startup.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	alerts, err := m.store.ActiveAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active alerts: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range alerts {
		a := alerts[i]
		if a.Ref == "" {
			a.Ref = uuid.NewString()
		}
		if a.TriggerID != nil {
			if _, dup := m.byTrigger[*a.TriggerID]; dup {
				continue
			}
			m.byTrigger[*a.TriggerID] = a.Ref
		}
		m.active[a.Ref] = &a
	}
	metrics.AlertsActive.Set(float64(len(m.active)))
	return len(alerts), nil
}

// Open creates an active alert for trigger t. It fails with
// ErrDuplicateActive when t already has one.
func (m *Manager) Open(ctx context.Context, t *models.Trigger, level models.AlertLevel, value float64, at time.Time) (*models.Alert, error) {
	tid := t.ID
	a := &models.Alert{
		Ref:         uuid.NewString(),
		TriggerID:   &tid,
		HostID:      t.HostID,
		Key:         t.Key,
		Title:       fmt.Sprintf("%s: %s %s %g", t.Label(), t.Key, t.Condition, t.Threshold),
		Message:     formatAlertMessage(t, value),
		Level:       level,
		Status:      models.AlertStatusActive,
		Value:       value,
		Threshold:   t.Threshold,
		TriggeredAt: at,
	}

	m.mu.Lock()
	if _, ok := m.byTrigger[tid]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("trigger %d: %w", tid, ErrDuplicateActive)
	}
	m.byTrigger[tid] = a.Ref
	m.active[a.Ref] = a
	snapshot := *a
	m.mu.Unlock()

	m.transitioned(ctx, &snapshot, opSave)
	return &snapshot, nil
}

// OpenManual creates an active alert not tied to any trigger.
func (m *Manager) OpenManual(ctx context.Context, hostID uint, title, message string, level models.AlertLevel, at time.Time) (*models.Alert, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("unknown alert level %q", level)
	}
	a := &models.Alert{
		Ref:         uuid.NewString(),
		HostID:      hostID,
		Title:       title,
		Message:     message,
		Level:       level,
		Status:      models.AlertStatusActive,
		TriggeredAt: at,
	}

	m.mu.Lock()
	m.active[a.Ref] = a
	snapshot := *a
	m.mu.Unlock()

	m.transitioned(ctx, &snapshot, opSave)
	return &snapshot, nil
}

// Resolve resolves the active alert with the given numeric id.
func (m *Manager) Resolve(ctx context.Context, alertID uint, at time.Time) (*models.Alert, error) {
	m.mu.Lock()
	var ref string
	for r, a := range m.active {
		if alertID != 0 && a.ID == alertID {
			ref = r
			break
		}
	}
	if ref == "" {
		m.mu.Unlock()
		return nil, fmt.Errorf("active alert %d: %w", alertID, ErrNotFound)
	}
	snapshot := m.resolveLocked(ref, at)
	m.mu.Unlock()

	m.transitioned(ctx, &snapshot, opUpdate)
	return &snapshot, nil
}

// ResolveTrigger resolves the active alert of trigger id, if there is one.
func (m *Manager) ResolveTrigger(ctx context.Context, triggerID uint, at time.Time) (*models.Alert, error) {
	m.mu.Lock()
	ref, ok := m.byTrigger[triggerID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("active alert for trigger %d: %w", triggerID, ErrNotFound)
	}
	snapshot := m.resolveLocked(ref, at)
	m.mu.Unlock()

	m.transitioned(ctx, &snapshot, opUpdate)
	return &snapshot, nil
}

func (m *Manager) resolveLocked(ref string, at time.Time) models.Alert {
	a := m.active[ref]
	delete(m.active, ref)
	if a.TriggerID != nil {
		delete(m.byTrigger, *a.TriggerID)
	}
	if at.Before(a.TriggeredAt) {
		at = a.TriggeredAt
	}
	a.Status = models.AlertStatusResolved
	a.ResolvedAt = &at
	return *a
}

// ActiveFor returns the active alert of trigger id.
func (m *Manager) ActiveFor(triggerID uint) (*models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.byTrigger[triggerID]
	if !ok {
		return nil, false
	}
	cp := *m.active[ref]
	return &cp, true
}

// ActiveForKey returns the active trigger alerts on (hostID, key).
func (m *Manager) ActiveForKey(hostID uint, key string) []models.Alert {
	m.mu.Lock()
	var out []models.Alert
	for _, a := range m.active {
		if a.TriggerID != nil && a.HostID == hostID && a.Key == key {
			out = append(out, *a)
		}
	}
	m.mu.Unlock()
	sortAlerts(out)
	return out
}

// Active returns every active alert, oldest first.
func (m *Manager) Active() []models.Alert {
	m.mu.Lock()
	out := make([]models.Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	m.mu.Unlock()
	sortAlerts(out)
	return out
}

func sortAlerts(alerts []models.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].TriggeredAt.Equal(alerts[j].TriggeredAt) {
			return alerts[i].Ref < alerts[j].Ref
		}
		return alerts[i].TriggeredAt.Before(alerts[j].TriggeredAt)
	})
}

func (m *Manager) transitioned(ctx context.Context, a *models.Alert, kind opKind) {
	metrics.AlertTransitionsTotal.WithLabelValues(string(a.Status), string(a.Level)).Inc()
	m.mu.Lock()
	metrics.AlertsActive.Set(float64(len(m.active)))
	m.mu.Unlock()

	m.log.Debug().
		Str("ref", a.Ref).
		Uint("host_id", a.HostID).
		Str("key", a.Key).
		Str("status", string(a.Status)).
		Str("level", string(a.Level)).
		Msg(a.Title)

	if m.store != nil {
		if id := m.persist(ctx, op{kind: kind, alert: *a}); id != 0 && a.ID == 0 {
			a.ID = id
			m.assignID(a.Ref, id)
		}
	}
	if m.notifier != nil {
		m.notifier.Notify(notify.FromAlert(a))
	}
}

// assignID copies a store-assigned id back onto the in-memory alert.
func (m *Manager) assignID(ref string, id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.active[ref]; ok {
		a.ID = id
	}
}

func formatAlertMessage(t *models.Trigger, value float64) string {
	return fmt.Sprintf("%s on host %d is %.2f (condition %s %.2f for %ds)",
		t.Key,
		t.HostID,
		value,
		t.Condition,
		t.Threshold,
		t.Duration)
}
