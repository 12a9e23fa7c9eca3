package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/netmon/internal/models"
	"github.com/netmon/internal/notify"
)

var (
	t0           = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	errStoreDown = errors.New("store down")
)

var (
	_ AlertStore = (*memAlertStore)(nil)
	_ Notifier   = (*recordingNotifier)(nil)
)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func sample(hostID uint, key string, sec int, value float64) Sample {
	return Sample{HostID: hostID, Key: key, Value: value, Timestamp: at(sec)}
}

// memAlertStore is an AlertStore that can be switched into a failing state.
type memAlertStore struct {
	mu      sync.Mutex
	nextID  uint
	failing bool
	alerts  map[string]models.Alert
	writes  []string
}

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{alerts: make(map[string]models.Alert)}
}

func (s *memAlertStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *memAlertStore) SaveAlert(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	s.nextID++
	a.ID = s.nextID
	s.alerts[a.Ref] = *a
	s.writes = append(s.writes, "save:"+a.Ref)
	return nil
}

func (s *memAlertStore) UpdateAlert(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	stored, ok := s.alerts[a.Ref]
	if !ok {
		return ErrNotFound
	}
	stored.Status = a.Status
	stored.ResolvedAt = a.ResolvedAt
	s.alerts[a.Ref] = stored
	s.writes = append(s.writes, "update:"+a.Ref)
	return nil
}

func (s *memAlertStore) ActiveAlerts(_ context.Context) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errStoreDown
	}
	var out []models.Alert
	for _, a := range s.alerts {
		if a.IsActive() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memAlertStore) get(ref string) (models.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[ref]
	return a, ok
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(msg notify.Notification) {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.sent...)
}

func cpuTrigger(hostID uint, threshold float64, duration int) *models.Trigger {
	return &models.Trigger{
		HostID:     hostID,
		Name:       "High CPU",
		Key:        "cpu_usage",
		Condition:  models.GreaterThan,
		Threshold:  threshold,
		Duration:   duration,
		AlertLevel: models.AlertLevelWarning,
		Enabled:    true,
	}
}
