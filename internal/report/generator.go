package report

import (
	"context"
	"fmt"
	"time"

	"github.com/netmon/internal/models"
	"github.com/netmon/internal/repository"
)

const defaultTopTriggers = 5

// Store is the subset of the repository the dashboard reads.
type Store interface {
	CountHosts(ctx context.Context, scope repository.Scope) (int64, error)
	AlertCounts(ctx context.Context, scope repository.Scope) ([]repository.AlertCount, error)
	TopTriggers(ctx context.Context, scope repository.Scope, limit int) ([]repository.TriggerCount, error)
}

type Generator struct {
	store Store
	now   func() time.Time
}

type Summary struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	TotalHosts   int64            `json:"total_hosts"`
	AlertSummary AlertSummary     `json:"alert_summary"`
	TopTriggers  []TriggerSummary `json:"top_triggers"`
}

type AlertSummary struct {
	TotalAlerts    int64 `json:"total_alerts"`
	ActiveAlerts   int64 `json:"active_alerts"`
	ResolvedAlerts int64 `json:"resolved_alerts"`
	CriticalAlerts int64 `json:"critical_alerts"`
	WarningAlerts  int64 `json:"warning_alerts"`
	InfoAlerts     int64 `json:"info_alerts"`
	// ActiveByLevel counts only unresolved alerts.
	ActiveByLevel map[models.AlertLevel]int64 `json:"active_by_level"`
}

type TriggerSummary struct {
	TriggerID  uint              `json:"trigger_id"`
	Name       string            `json:"name"`
	Level      models.AlertLevel `json:"level"`
	AlertCount int64             `json:"alert_count"`
}

func NewGenerator(store Store) *Generator {
	return &Generator{store: store, now: time.Now}
}

// Dashboard builds the summary of hosts and alerts visible in scope.
func (g *Generator) Dashboard(ctx context.Context, scope repository.Scope) (*Summary, error) {
	hosts, err := g.store.CountHosts(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}
	counts, err := g.store.AlertCounts(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}
	top, err := g.store.TopTriggers(ctx, scope, defaultTopTriggers)
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}

	summary := &Summary{
		GeneratedAt:  g.now(),
		TotalHosts:   hosts,
		AlertSummary: summarize(counts),
		TopTriggers:  make([]TriggerSummary, 0, len(top)),
	}
	for _, t := range top {
		summary.TopTriggers = append(summary.TopTriggers, TriggerSummary{
			TriggerID:  t.TriggerID,
			Name:       t.Name,
			Level:      t.Level,
			AlertCount: t.Count,
		})
	}
	return summary, nil
}

func summarize(counts []repository.AlertCount) AlertSummary {
	s := AlertSummary{ActiveByLevel: make(map[models.AlertLevel]int64)}
	for _, c := range counts {
		s.TotalAlerts += c.Count

		switch c.Status {
		case models.AlertStatusActive:
			s.ActiveAlerts += c.Count
			s.ActiveByLevel[c.Level] += c.Count
		case models.AlertStatusResolved:
			s.ResolvedAlerts += c.Count
		}

		switch c.Level {
		case models.AlertLevelCritical:
			s.CriticalAlerts += c.Count
		case models.AlertLevelWarning:
			s.WarningAlerts += c.Count
		case models.AlertLevelInfo:
			s.InfoAlerts += c.Count
		}
	}
	return s
}
