package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/netmon/internal/alert"
	"github.com/netmon/internal/logger"
	"github.com/netmon/internal/metrics"
	"github.com/netmon/internal/models"
)

var (
	ErrInvalidSample  = errors.New("invalid sample")
	ErrQueueFull      = errors.New("ingest queue full")
	ErrPipelineClosed = errors.New("ingest pipeline closed")
)

// Recorder stores accepted samples durably. It is optional.
type Recorder interface {
	SaveMetric(ctx context.Context, m *models.Metric) error
}

// Ingress accepts samples, keeps the window store current and runs the
// evaluator for the sample's key.
type Ingress struct {
	engine   *alert.Engine
	recorder Recorder
	log      zerolog.Logger
}

func NewIngress(engine *alert.Engine, recorder Recorder) *Ingress {
	return &Ingress{
		engine:   engine,
		recorder: recorder,
		log:      logger.WithComponent("ingress"),
	}
}

// Check rejects samples that can never be accepted and samples older than the
// oldest one retained for their key.
func (i *Ingress) Check(s alert.Sample) error {
	if err := validate(s); err != nil {
		return err
	}
	return i.engine.Windows.Admit(s.HostID, s.Key, s.Timestamp)
}

func validate(s alert.Sample) error {
	switch {
	case s.HostID == 0:
		return fmt.Errorf("%w: host_id is required", ErrInvalidSample)
	case s.Key == "":
		return fmt.Errorf("%w: key is required", ErrInvalidSample)
	case s.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidSample)
	case math.IsNaN(s.Value) || math.IsInf(s.Value, 0):
		return fmt.Errorf("%w: value must be finite", ErrInvalidSample)
	}
	return nil
}

// Ingest processes one sample synchronously. Samples for one (host, key) must
// be ingested from a single goroutine at a time; Pipeline does that routing.
func (i *Ingress) Ingest(ctx context.Context, s alert.Sample) ([]alert.Transition, error) {
	if err := validate(s); err != nil {
		metrics.IngestSamplesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	horizon := i.engine.Registry.MaxDuration(s.HostID, s.Key)
	added, err := i.engine.Windows.Append(s, horizon)
	if errors.Is(err, alert.ErrStaleSample) {
		metrics.IngestSamplesTotal.WithLabelValues("stale").Inc()
		return nil, err
	}
	if err != nil {
		metrics.IngestSamplesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if !added {
		metrics.IngestSamplesTotal.WithLabelValues("duplicate").Inc()
		return nil, nil
	}
	metrics.IngestSamplesTotal.WithLabelValues("accepted").Inc()

	if i.recorder != nil {
		m := &models.Metric{HostID: s.HostID, Key: s.Key, Value: s.Value, Timestamp: s.Timestamp}
		if err := i.recorder.SaveMetric(ctx, m); err != nil {
			i.log.Warn().
				Err(err).
				Uint("host_id", s.HostID).
				Str("key", s.Key).
				Msg("failed to store metric")
		}
	}

	transitions, err := i.engine.Evaluator.Evaluate(ctx, s.HostID, s.Key)
	if err != nil {
		metrics.IngestSamplesTotal.WithLabelValues("failed").Inc()
		return transitions, fmt.Errorf("failed to evaluate %d/%s: %w", s.HostID, s.Key, err)
	}
	return transitions, nil
}
