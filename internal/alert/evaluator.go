package alert

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/netmon/internal/logger"
	"github.com/netmon/internal/metrics"
	"github.com/netmon/internal/models"
)

// Transition is an alert state change produced by an evaluation.
type Transition struct {
	Alert  models.Alert       `json:"alert"`
	Status models.AlertStatus `json:"status"`
	At     time.Time          `json:"at"`
}

// Evaluator decides, after each accepted sample, whether triggers on the
// sample's key start or stop holding, and drives the manager accordingly.
// Calls for one (host, key) must not run concurrently; the ingest pipeline
// guarantees that by routing a key to a single worker.
type Evaluator struct {
	windows  *WindowStore
	registry *Registry
	manager  *Manager
	log      zerolog.Logger
}

func NewEvaluator(windows *WindowStore, registry *Registry, manager *Manager) *Evaluator {
	return &Evaluator{
		windows:  windows,
		registry: registry,
		manager:  manager,
		log:      logger.WithComponent("evaluator"),
	}
}

// Observe appends s to its window and evaluates the triggers on its key.
// A duplicate sample is accepted without re-evaluation.
func (e *Evaluator) Observe(ctx context.Context, s Sample) ([]Transition, error) {
	horizon := e.registry.MaxDuration(s.HostID, s.Key)
	added, err := e.windows.Append(s, horizon)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, nil
	}
	return e.Evaluate(ctx, s.HostID, s.Key)
}

// Evaluate checks every enabled trigger on (hostID, key) against the current
// window, opening and resolving alerts as needed. Active alerts whose trigger
// is gone or disabled are resolved.
func (e *Evaluator) Evaluate(ctx context.Context, hostID uint, key string) ([]Transition, error) {
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	samples := e.windows.Snapshot(hostID, key)
	if len(samples) == 0 {
		return nil, nil
	}
	latest := samples[len(samples)-1]

	var transitions []Transition
	triggers := e.registry.TriggersFor(hostID, key)
	enabled := make(map[uint]struct{}, len(triggers))

	for i := range triggers {
		t := &triggers[i]
		enabled[t.ID] = struct{}{}

		holding := Holds(t, samples)
		_, active := e.manager.ActiveFor(t.ID)

		switch {
		case holding && !active:
			a, err := e.manager.Open(ctx, t, t.AlertLevel, latest.Value, latest.Timestamp)
			if errors.Is(err, ErrDuplicateActive) {
				e.log.Warn().Uint("trigger_id", t.ID).Msg("alert already active, skipping")
				continue
			}
			if err != nil {
				return transitions, err
			}
			transitions = append(transitions, Transition{Alert: *a, Status: a.Status, At: a.TriggeredAt})

		case !holding && active:
			a, err := e.manager.ResolveTrigger(ctx, t.ID, latest.Timestamp)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return transitions, err
			}
			transitions = append(transitions, Transition{Alert: *a, Status: a.Status, At: *a.ResolvedAt})
		}
	}

	for _, orphan := range e.manager.ActiveForKey(hostID, key) {
		if _, ok := enabled[*orphan.TriggerID]; ok {
			continue
		}
		a, err := e.manager.ResolveTrigger(ctx, *orphan.TriggerID, latest.Timestamp)
		if err != nil {
			continue
		}
		e.log.Info().
			Uint("trigger_id", *orphan.TriggerID).
			Str("ref", a.Ref).
			Msg("resolved alert of disabled trigger")
		transitions = append(transitions, Transition{Alert: *a, Status: a.Status, At: *a.ResolvedAt})
	}

	return transitions, nil
}

// Holds reports whether t's condition has been continuously true for its
// duration as of the newest sample. samples must be ordered by timestamp.
//
// The considered samples are those at or after latest-duration. When the
// earliest of them is later than that cutoff, the last sample before the
// cutoff is included too, since its value held until the next sample. The
// condition holds when every considered sample satisfies the predicate and
// the earliest considered sample is not after the cutoff. With a zero
// duration only the latest sample counts.
func Holds(t *models.Trigger, samples []Sample) bool {
	n := len(samples)
	if n == 0 {
		return false
	}
	cutoff := samples[n-1].Timestamp.Add(-t.Window())
	first := sort.Search(n, func(i int) bool {
		return !samples[i].Timestamp.Before(cutoff)
	})
	if first == n {
		return false
	}
	if samples[first].Timestamp.After(cutoff) {
		if first == 0 {
			return false
		}
		first--
	}
	for _, s := range samples[first:] {
		if !t.Condition.Compare(s.Value, t.Threshold) {
			return false
		}
	}
	return true
}
