package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/netmon/internal/models"
)

// MetricFilter selects stored samples. Zero fields are ignored.
type MetricFilter struct {
	HostID uint
	Key    string
	Limit  int
}

func (r *Repository) SaveMetric(ctx context.Context, m *models.Metric) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to save metric: %w", err)
	}
	return nil
}

// ListMetrics returns samples newest first.
func (r *Repository) ListMetrics(ctx context.Context, scope Scope, f MetricFilter) ([]models.Metric, error) {
	q := scope.apply(r.db.WithContext(ctx).Model(&models.Metric{}), "host_id")
	if f.HostID != 0 {
		q = q.Where("host_id = ?", f.HostID)
	}
	if f.Key != "" {
		q = q.Where("metric_key = ?", f.Key)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []models.Metric
	if err := q.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	return out, nil
}

// LatestMetrics returns the newest sample of every key reported by hostID.
func (r *Repository) LatestMetrics(ctx context.Context, hostID uint) ([]models.Metric, error) {
	latest := r.db.WithContext(ctx).Model(&models.Metric{}).
		Select("metric_key, MAX(timestamp) AS ts").
		Where("host_id = ?", hostID).
		Group("metric_key")

	var out []models.Metric
	err := r.db.WithContext(ctx).
		Table("metrics AS m").
		Select("m.*").
		Joins("JOIN (?) AS l ON m.metric_key = l.metric_key AND m.timestamp = l.ts", latest).
		Where("m.host_id = ?", hostID).
		Order("m.metric_key ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get latest metrics of host %d: %w", hostID, err)
	}
	return dedupeByKey(out), nil
}

// dedupeByKey keeps the first row per key; ties on timestamp can return more.
func dedupeByKey(in []models.Metric) []models.Metric {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, m := range in {
		if _, ok := seen[m.Key]; ok {
			continue
		}
		seen[m.Key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// MetricsBetween returns the samples of (hostID, key) in [start, end], oldest first.
func (r *Repository) MetricsBetween(ctx context.Context, hostID uint, key string, start, end time.Time) ([]models.Metric, error) {
	var out []models.Metric
	err := r.db.WithContext(ctx).
		Where("host_id = ? AND metric_key = ?", hostID, key).
		Where("timestamp >= ? AND timestamp <= ?", start, end).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics of host %d: %w", hostID, err)
	}
	return out, nil
}
