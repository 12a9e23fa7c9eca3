package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netmon/internal/logger"
	"github.com/netmon/internal/metrics"
	"github.com/netmon/internal/models"
)

var ErrDispatcherClosed = errors.New("dispatcher is closed")

// Notification describes one alert lifecycle transition.
type Notification struct {
	AlertID   uint               `json:"alert_id"`
	Ref       string             `json:"ref"`
	HostID    uint               `json:"host_id"`
	TriggerID *uint              `json:"trigger_id,omitempty"`
	Key       string             `json:"key,omitempty"`
	Status    models.AlertStatus `json:"status"`
	Level     models.AlertLevel  `json:"level"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Value     float64            `json:"value"`
	Threshold float64            `json:"threshold"`
	At        time.Time          `json:"at"`
}

// FromAlert builds the notification for the alert's current status.
func FromAlert(a *models.Alert) Notification {
	at := a.TriggeredAt
	if a.Status == models.AlertStatusResolved && a.ResolvedAt != nil {
		at = *a.ResolvedAt
	}
	return Notification{
		AlertID:   a.ID,
		Ref:       a.Ref,
		HostID:    a.HostID,
		TriggerID: a.TriggerID,
		Key:       a.Key,
		Status:    a.Status,
		Level:     a.Level,
		Title:     a.Title,
		Message:   a.Message,
		Value:     a.Value,
		Threshold: a.Threshold,
		At:        at,
	}
}

// Sink delivers notifications to one channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// DispatcherConfig controls queueing and retries.
type DispatcherConfig struct {
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// Dispatcher fans notifications out to every sink from a single background
// worker. Each failed sink is retried with linear backoff.
type Dispatcher struct {
	cfg   DispatcherConfig
	sinks []Sink
	queue chan Notification
	log   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		cfg:   cfg,
		sinks: sinks,
		queue: make(chan Notification, cfg.QueueSize),
		log:   logger.WithComponent("notify"),
	}
}

// Start launches the delivery worker. The worker runs until Close has been
// called and the queue is drained; cancelling ctx does not drop queued
// notifications.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for n := range d.queue {
			d.deliver(ctx, n)
		}
	}()
}

// Notify queues n. When the queue is full the notification is dropped and
// counted rather than blocking the caller.
func (d *Dispatcher) Notify(n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- n:
	default:
		for _, s := range d.sinks {
			metrics.NotificationsTotal.WithLabelValues(s.Name(), "dropped").Inc()
		}
		d.log.Warn().
			Str("ref", n.Ref).
			Str("status", string(n.Status)).
			Msg("notification queue full, dropping")
	}
}

// Close stops accepting notifications and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	for _, s := range d.sinks {
		if err := d.sendWithRetry(ctx, s, n); err != nil {
			metrics.NotificationsTotal.WithLabelValues(s.Name(), "failed").Inc()
			d.log.Error().
				Err(err).
				Str("sink", s.Name()).
				Str("ref", n.Ref).
				Msg("notification delivery failed")
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(s.Name(), "sent").Inc()
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, s Sink, n Notification) error {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.NotificationsTotal.WithLabelValues(s.Name(), "retried").Inc()
			select {
			case <-time.After(time.Duration(attempt-1) * d.cfg.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		lastErr = s.Send(sendCtx, n)
		cancel()
		if lastErr == nil {
			return nil
		}
		d.log.Warn().
			Err(lastErr).
			Str("sink", s.Name()).
			Int("attempt", attempt).
			Msg("notification attempt failed")
	}
	return fmt.Errorf("failed after %d attempts: %w", d.cfg.MaxAttempts, lastErr)
}
