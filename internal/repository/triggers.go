package repository

import (
	"context"
	"fmt"

	"github.com/netmon/internal/models"
)

// LoadTriggers returns every trigger of hostID.
func (r *Repository) LoadTriggers(ctx context.Context, hostID uint) ([]models.Trigger, error) {
	var triggers []models.Trigger
	if err := r.db.WithContext(ctx).Where("host_id = ?", hostID).Order("id ASC").Find(&triggers).Error; err != nil {
		return nil, fmt.Errorf("failed to load triggers: %w", err)
	}
	return triggers, nil
}

func (r *Repository) CreateTrigger(ctx context.Context, t *models.Trigger) error {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create trigger: %w", err)
	}
	return nil
}

// UpdateTrigger writes every field of t, including zero values.
func (r *Repository) UpdateTrigger(ctx context.Context, t *models.Trigger) error {
	res := r.db.WithContext(ctx).Model(&models.Trigger{}).
		Where("id = ?", t.ID).
		Select("name", "description", "condition", "threshold", "duration", "alert_level", "enabled").
		Updates(t)
	if res.Error != nil {
		return fmt.Errorf("failed to update trigger %d: %w", t.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteTrigger(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Trigger{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete trigger %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
