package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/netmon/internal/models"
)

// TriggerStore is the durable copy of trigger definitions.
type TriggerStore interface {
	LoadTriggers(ctx context.Context, hostID uint) ([]models.Trigger, error)
	CreateTrigger(ctx context.Context, t *models.Trigger) error
	UpdateTrigger(ctx context.Context, t *models.Trigger) error
	DeleteTrigger(ctx context.Context, id uint) error
}

// Registry owns the set of trigger definitions and indexes them by
// (host, key) for the evaluator.
type Registry struct {
	store TriggerStore

	// writes serializes mutations so the store and the index never disagree.
	writes sync.Mutex

	mu    sync.RWMutex
	byID  map[uint]*models.Trigger
	byKey map[seriesKey]map[uint]*models.Trigger
}

func NewRegistry(store TriggerStore) *Registry {
	return &Registry{
		store: store,
		byID:  make(map[uint]*models.Trigger),
		byKey: make(map[seriesKey]map[uint]*models.Trigger),
	}
}

// Validate checks a trigger definition. All failures wrap ErrInvalidTrigger.
func Validate(t *models.Trigger) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: missing trigger", ErrInvalidTrigger)
	case t.HostID == 0:
		return fmt.Errorf("%w: host_id is required", ErrInvalidTrigger)
	case t.Key == "":
		return fmt.Errorf("%w: key is required", ErrInvalidTrigger)
	case !t.Condition.Valid():
		return fmt.Errorf("%w: unknown condition", ErrInvalidTrigger)
	case t.Duration < 0:
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidTrigger)
	case int64(t.Duration) > models.MaxTriggerDuration:
		return fmt.Errorf("%w: duration must not exceed %d seconds", ErrInvalidTrigger, models.MaxTriggerDuration)
	case math.IsNaN(t.Threshold) || math.IsInf(t.Threshold, 0):
		return fmt.Errorf("%w: threshold must be finite", ErrInvalidTrigger)
	case !t.AlertLevel.Valid():
		return fmt.Errorf("%w: unknown alert level %q", ErrInvalidTrigger, t.AlertLevel)
	}
	return nil
}

func (r *Registry) index(t models.Trigger) {
	r.unindex(t.ID)
	cp := t
	r.byID[t.ID] = &cp
	k := seriesKey{t.HostID, t.Key}
	if r.byKey[k] == nil {
		r.byKey[k] = make(map[uint]*models.Trigger)
	}
	r.byKey[k][t.ID] = &cp
}

func (r *Registry) unindex(id uint) {
	old, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	k := seriesKey{old.HostID, old.Key}
	delete(r.byKey[k], id)
	if len(r.byKey[k]) == 0 {
		delete(r.byKey, k)
	}
}

// Register validates t, persists it and makes it visible to the evaluator.
// On success t carries the id assigned by the store.
func (r *Registry) Register(ctx context.Context, t *models.Trigger) error {
	if err := Validate(t); err != nil {
		return err
	}

	r.writes.Lock()
	defer r.writes.Unlock()

	if err := r.store.CreateTrigger(ctx, t); err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}

	r.mu.Lock()
	r.index(*t)
	r.mu.Unlock()
	return nil
}

// Update applies a partial update to trigger id.
func (r *Registry) Update(ctx context.Context, id uint, patch models.TriggerPatch) (*models.Trigger, error) {
	r.writes.Lock()
	defer r.writes.Unlock()

	current, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	updated := patch.Apply(*current)
	updated.ID = current.ID
	updated.HostID = current.HostID
	if err := Validate(&updated); err != nil {
		return nil, err
	}
	if err := r.store.UpdateTrigger(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update trigger: %w", err)
	}

	r.mu.Lock()
	r.index(updated)
	r.mu.Unlock()
	return &updated, nil
}

func (r *Registry) Enable(ctx context.Context, id uint) (*models.Trigger, error) {
	enabled := true
	return r.Update(ctx, id, models.TriggerPatch{Enabled: &enabled})
}

// Disable stops the trigger from firing. Any alert it has open is resolved by
// the evaluator on the next sample for its key.
func (r *Registry) Disable(ctx context.Context, id uint) (*models.Trigger, error) {
	enabled := false
	return r.Update(ctx, id, models.TriggerPatch{Enabled: &enabled})
}

func (r *Registry) Delete(ctx context.Context, id uint) error {
	r.writes.Lock()
	defer r.writes.Unlock()

	if _, err := r.Get(id); err != nil {
		return err
	}
	if err := r.store.DeleteTrigger(ctx, id); err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}

	r.mu.Lock()
	r.unindex(id)
	r.mu.Unlock()
	return nil
}

// Get returns a copy of trigger id.
func (r *Registry) Get(id uint) (*models.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("trigger %d: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// List returns every trigger of hostID, or of all hosts when hostID is 0,
// ordered by id.
func (r *Registry) List(hostID uint) []models.Trigger {
	r.mu.RLock()
	out := make([]models.Trigger, 0, len(r.byID))
	for _, t := range r.byID {
		if hostID == 0 || t.HostID == hostID {
			out = append(out, *t)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TriggersFor returns the enabled triggers watching (hostID, key).
func (r *Registry) TriggersFor(hostID uint, key string) []models.Trigger {
	r.mu.RLock()
	set := r.byKey[seriesKey{hostID, key}]
	out := make([]models.Trigger, 0, len(set))
	for _, t := range set {
		if t.Enabled {
			out = append(out, *t)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MaxDuration is the retention horizon the window store needs for
// (hostID, key). Disabled triggers count so that re-enabling them finds history.
func (r *Registry) MaxDuration(hostID uint, key string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max time.Duration
	for _, t := range r.byKey[seriesKey{hostID, key}] {
		if w := t.Window(); w > max {
			max = w
		}
	}
	return max
}

// LoadHost replaces the in-memory triggers of hostID with the stored ones.
func (r *Registry) LoadHost(ctx context.Context, hostID uint) (int, error) {
	triggers, err := r.store.LoadTriggers(ctx, hostID)
	if err != nil {
		return 0, fmt.Errorf("failed to load triggers for host %d: %w", hostID, err)
	}

	r.writes.Lock()
	defer r.writes.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.forget(hostID)
	for _, t := range triggers {
		r.index(t)
	}
	return len(triggers), nil
}

// ForgetHost drops hostID's triggers from memory only.
func (r *Registry) ForgetHost(hostID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forget(hostID)
}

func (r *Registry) forget(hostID uint) {
	for id, t := range r.byID {
		if t.HostID == hostID {
			r.unindex(id)
		}
	}
}

// DefaultTriggers returns the stock trigger set for a new host.
func DefaultTriggers(hostID uint) []models.Trigger {
	return []models.Trigger{
		{
			HostID:      hostID,
			Name:        "High CPU Usage",
			Description: "CPU usage above 90% for 5 minutes",
			Key:         "cpu_usage",
			Condition:   models.GreaterThan,
			Threshold:   90,
			Duration:    300,
			AlertLevel:  models.AlertLevelWarning,
			Enabled:     true,
		},
		{
			HostID:      hostID,
			Name:        "Critical Memory Usage",
			Description: "Memory usage above 95% for 3 minutes",
			Key:         "memory_usage",
			Condition:   models.GreaterThan,
			Threshold:   95,
			Duration:    180,
			AlertLevel:  models.AlertLevelCritical,
			Enabled:     true,
		},
		{
			HostID:      hostID,
			Name:        "Disk Almost Full",
			Description: "Disk usage above 90% for 10 minutes",
			Key:         "disk_usage",
			Condition:   models.GreaterThan,
			Threshold:   90,
			Duration:    600,
			AlertLevel:  models.AlertLevelWarning,
			Enabled:     true,
		},
	}
}

// CreateDefaults registers the stock triggers for hostID.
func (r *Registry) CreateDefaults(ctx context.Context, hostID uint) error {
	for _, t := range DefaultTriggers(hostID) {
		t := t
		if err := r.Register(ctx, &t); err != nil {
			return fmt.Errorf("failed to create default trigger %q: %w", t.Name, err)
		}
	}
	return nil
}

// Export writes the triggers of hostID (all hosts for 0) as indented JSON.
func (r *Registry) Export(w io.Writer, hostID uint) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.List(hostID)); err != nil {
		return fmt.Errorf("failed to export triggers: %w", err)
	}
	return nil
}

// Import reads a JSON trigger list and registers every entry as a new
// trigger. When hostID is non-zero it overrides the host of each entry.
// Nothing is registered unless every entry validates.
func (r *Registry) Import(ctx context.Context, rd io.Reader, hostID uint) ([]models.Trigger, error) {
	var triggers []models.Trigger
	if err := json.NewDecoder(rd).Decode(&triggers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}

	for i := range triggers {
		triggers[i].ID = 0
		triggers[i].CreatedAt = time.Time{}
		triggers[i].UpdatedAt = time.Time{}
		if hostID != 0 {
			triggers[i].HostID = hostID
		}
		if err := Validate(&triggers[i]); err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i, err)
		}
	}

	for i := range triggers {
		if err := r.Register(ctx, &triggers[i]); err != nil {
			return triggers[:i], err
		}
	}
	return triggers, nil
}
