package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/netmon/internal/models"
)

// Engine bundles the stores and services that make up trigger evaluation.
type Engine struct {
	Windows   *WindowStore
	Registry  *Registry
	Manager   *Manager
	Evaluator *Evaluator
}

func NewEngine(triggers TriggerStore, alerts AlertStore, notifier Notifier) *Engine {
	windows := NewWindowStore()
	registry := NewRegistry(triggers)
	manager := NewManager(alerts, notifier)
	return &Engine{
		Windows:   windows,
		Registry:  registry,
		Manager:   manager,
		Evaluator: NewEvaluator(windows, registry, manager),
	}
}

// Simulate runs t against samples in an isolated engine and returns the
// transitions it would have produced. Stale samples are skipped.
func Simulate(ctx context.Context, t models.Trigger, samples []Sample) ([]Transition, error) {
	if t.ID == 0 {
		t.ID = 1
	}
	t.Enabled = true
	if err := Validate(&t); err != nil {
		return nil, err
	}

	engine := NewEngine(NewMemoryTriggerStore(), nil, nil)
	engine.Registry.mu.Lock()
	engine.Registry.index(t)
	engine.Registry.mu.Unlock()

	var transitions []Transition
	for i, s := range samples {
		s.HostID = t.HostID
		s.Key = t.Key
		out, err := engine.Evaluator.Observe(ctx, s)
		if errors.Is(err, ErrStaleSample) {
			continue
		}
		if err != nil {
			return transitions, fmt.Errorf("sample %d: %w", i, err)
		}
		transitions = append(transitions, out...)
	}
	return transitions, nil
}

// MemoryTriggerStore keeps triggers in memory. It backs simulations and tests.
type MemoryTriggerStore struct {
	mu       sync.Mutex
	nextID   uint
	triggers map[uint]models.Trigger
}

func NewMemoryTriggerStore() *MemoryTriggerStore {
	return &MemoryTriggerStore{triggers: make(map[uint]models.Trigger)}
}

func (s *MemoryTriggerStore) LoadTriggers(_ context.Context, hostID uint) ([]models.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trigger
	for _, t := range s.triggers {
		if t.HostID == hostID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryTriggerStore) CreateTrigger(_ context.Context, t *models.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	s.triggers[t.ID] = *t
	return nil
}

func (s *MemoryTriggerStore) UpdateTrigger(_ context.Context, t *models.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.ID]; !ok {
		return ErrNotFound
	}
	s.triggers[t.ID] = *t
	return nil
}

func (s *MemoryTriggerStore) DeleteTrigger(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return ErrNotFound
	}
	delete(s.triggers, id)
	return nil
}
