package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/netmon/internal/logger"
	"github.com/netmon/internal/models"
)

// LogSink writes every notification to the structured log.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.WithComponent("alerts")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, n Notification) error {
	ev := s.log.Info()
	if n.Status == models.AlertStatusActive {
		ev = s.log.Warn()
	}
	ev.Str("ref", n.Ref).
		Uint("alert_id", n.AlertID).
		Uint("host_id", n.HostID).
		Str("key", n.Key).
		Str("status", string(n.Status)).
		Str("level", string(n.Level)).
		Float64("value", n.Value).
		Time("at", n.At).
		Msg(n.Title)
	return nil
}
