package repository

import (
	"context"
	"fmt"

	"github.com/netmon/internal/models"
)

// AlertFilter selects alerts. Zero fields are ignored.
type AlertFilter struct {
	HostID uint
	Status models.AlertStatus
	Level  models.AlertLevel
	Limit  int
}

func (r *Repository) SaveAlert(ctx context.Context, a *models.Alert) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to save alert %s: %w", a.Ref, err)
	}
	return nil
}

// UpdateAlert writes the lifecycle fields of the alert identified by Ref.
func (r *Repository) UpdateAlert(ctx context.Context, a *models.Alert) error {
	res := r.db.WithContext(ctx).Model(&models.Alert{}).
		Where("ref = ?", a.Ref).
		Updates(map[string]any{"status": a.Status, "resolved_at": a.ResolvedAt})
	if res.Error != nil {
		return fmt.Errorf("failed to update alert %s: %w", a.Ref, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	var alerts []models.Alert
	err := r.db.WithContext(ctx).
		Where("status = ?", models.AlertStatusActive).
		Order("triggered_at ASC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	return alerts, nil
}

func (r *Repository) AlertByID(ctx context.Context, scope Scope, id uint) (*models.Alert, error) {
	var a models.Alert
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err, "failed to get alert %d", id)
	}
	if !scope.Allows(a.HostID) {
		return nil, ErrNotFound
	}
	return &a, nil
}

// ListAlerts returns alerts newest first, at most 100 unless f.Limit is lower.
func (r *Repository) ListAlerts(ctx context.Context, scope Scope, f AlertFilter) ([]models.Alert, error) {
	q := scope.apply(r.db.WithContext(ctx).Model(&models.Alert{}), "host_id")
	if f.HostID != 0 {
		q = q.Where("host_id = ?", f.HostID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Level != "" {
		q = q.Where("level = ?", f.Level)
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var alerts []models.Alert
	if err := q.Order("triggered_at DESC").Order("id DESC").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// AlertCount is one row of the dashboard breakdown.
type AlertCount struct {
	Level  models.AlertLevel
	Status models.AlertStatus
	Count  int64
}

func (r *Repository) AlertCounts(ctx context.Context, scope Scope) ([]AlertCount, error) {
	var rows []AlertCount
	err := scope.apply(r.db.WithContext(ctx).Model(&models.Alert{}), "host_id").
		Select("level, status, COUNT(*) AS count").
		Group("level").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	return rows, nil
}

// TriggerCount is the number of alerts raised by one trigger.
type TriggerCount struct {
	TriggerID uint
	Name      string
	Level     models.AlertLevel
	Count     int64
}

// TopTriggers returns the triggers that raised the most alerts.
func (r *Repository) TopTriggers(ctx context.Context, scope Scope, limit int) ([]TriggerCount, error) {
	var rows []TriggerCount
	q := r.db.WithContext(ctx).
		Table("alerts AS a").
		Select("a.trigger_id AS trigger_id, t.name AS name, t.alert_level AS level, COUNT(*) AS count").
		Joins("JOIN triggers AS t ON t.id = a.trigger_id").
		Where("a.trigger_id IS NOT NULL").
		Where("a.deleted_at IS NULL")
	q = scope.apply(q, "a.host_id")
	err := q.Group("a.trigger_id").Group("t.name").Group("t.alert_level").
		Order("count DESC").
		Order("a.trigger_id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank triggers: %w", err)
	}
	return rows, nil
}
