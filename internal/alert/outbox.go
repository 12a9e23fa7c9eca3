package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/netmon/internal/metrics"
	"github.com/netmon/internal/models"
)

type opKind uint8

const (
	opSave opKind = iota
	opUpdate
)

type op struct {
	kind  opKind
	alert models.Alert
}

// outbox holds alert writes that failed, in the order they were issued.
type outbox struct {
	mu  sync.Mutex
	ops []op
}

func (m *Manager) apply(ctx context.Context, o *op) error {
	if o.kind == opSave {
		return m.store.SaveAlert(ctx, &o.alert)
	}
	return m.store.UpdateAlert(ctx, &o.alert)
}

// persist writes o, or buffers it when the store fails or earlier writes are
// still pending. It returns the id assigned by a successful save.
func (m *Manager) persist(ctx context.Context, o op) uint {
	m.outbox.mu.Lock()
	defer m.outbox.mu.Unlock()

	if len(m.outbox.ops) == 0 {
		err := m.apply(ctx, &o)
		if err == nil {
			return o.alert.ID
		}
		m.log.Warn().
			Err(err).
			Str("ref", o.alert.Ref).
			Msg("alert write failed, buffering for retry")
		metrics.PersistRetriesTotal.Inc()
	}

	m.outbox.ops = append(m.outbox.ops, o)
	metrics.PersistPending.Set(float64(len(m.outbox.ops)))
	return 0
}

// Flush retries buffered writes in order and stops at the first failure.
func (m *Manager) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.outbox.mu.Lock()
	defer m.outbox.mu.Unlock()

	for len(m.outbox.ops) > 0 {
		o := &m.outbox.ops[0]
		if err := m.apply(ctx, o); err != nil {
			metrics.PersistRetriesTotal.Inc()
			return fmt.Errorf("failed to flush alert %s: %w", o.alert.Ref, err)
		}
		if o.kind == opSave {
			m.assignID(o.alert.Ref, o.alert.ID)
		}
		m.outbox.ops = m.outbox.ops[1:]
		metrics.PersistPending.Set(float64(len(m.outbox.ops)))
	}
	m.outbox.ops = nil
	return nil
}

// Pending returns the number of buffered writes.
func (m *Manager) Pending() int {
	m.outbox.mu.Lock()
	defer m.outbox.mu.Unlock()
	return len(m.outbox.ops)
}

// Run flushes the outbox every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Pending() == 0 {
				continue
			}
			if err := m.Flush(ctx); err != nil {
				m.log.Warn().
					Err(err).
					Int("pending", m.Pending()).
					Msg("alert outbox flush failed")
			}
		}
	}
}
