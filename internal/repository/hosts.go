package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/netmon/internal/models"
)

func (r *Repository) CreateHost(ctx context.Context, h *models.Host) error {
	if err := r.db.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}
	return nil
}

// HostByID returns host id when scope allows it.
func (r *Repository) HostByID(ctx context.Context, scope Scope, id uint) (*models.Host, error) {
	if !scope.Allows(id) {
		return nil, ErrNotFound
	}
	var h models.Host
	if err := r.db.WithContext(ctx).First(&h, id).Error; err != nil {
		return nil, notFound(err, "failed to get host %d", id)
	}
	return &h, nil
}

func (r *Repository) HostByName(ctx context.Context, name string) (*models.Host, error) {
	var h models.Host
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&h).Error; err != nil {
		return nil, notFound(err, "failed to get host %q", name)
	}
	return &h, nil
}

// ListHosts returns the hosts owned by userID, or every host for userID 0.
func (r *Repository) ListHosts(ctx context.Context, userID uint, offset, limit int) ([]models.Host, error) {
	q := r.db.WithContext(ctx).Order("id ASC")
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	var hosts []models.Host
	if err := q.Find(&hosts).Error; err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	return hosts, nil
}

// HostScope builds the scope of hosts visible to a user. Admins see all.
func (r *Repository) HostScope(ctx context.Context, u *models.User) (Scope, error) {
	if u.Role == models.RoleAdmin {
		return All, nil
	}
	ids := []uint{}
	if err := r.db.WithContext(ctx).Model(&models.Host{}).
		Where("user_id = ?", u.ID).
		Pluck("id", &ids).Error; err != nil {
		return Scope{}, fmt.Errorf("failed to resolve hosts of user %d: %w", u.ID, err)
	}
	return Scope{HostIDs: ids}, nil
}

// AllHostIDs lists every host, used to warm the trigger registry.
func (r *Repository) AllHostIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.Host{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list host ids: %w", err)
	}
	return ids, nil
}

func (r *Repository) CountHosts(ctx context.Context, scope Scope) (int64, error) {
	var n int64
	q := scope.apply(r.db.WithContext(ctx).Model(&models.Host{}), "id")
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count hosts: %w", err)
	}
	return n, nil
}

func (r *Repository) UpdateHost(ctx context.Context, h *models.Host) error {
	if err := r.db.WithContext(ctx).Save(h).Error; err != nil {
		return fmt.Errorf("failed to update host %d: %w", h.ID, err)
	}
	return nil
}

// Heartbeat marks the host online.
func (r *Repository) Heartbeat(ctx context.Context, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Host{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": models.HostStatusOnline, "last_seen": at})
	if res.Error != nil {
		return fmt.Errorf("failed to record heartbeat for host %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteHost removes the host together with its triggers and samples.
// Alerts are kept as history.
func (r *Repository) DeleteHost(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Host{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete host %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("host_id = ?", id).Delete(&models.Trigger{}).Error; err != nil {
			return fmt.Errorf("failed to delete triggers of host %d: %w", id, err)
		}
		if err := tx.Where("host_id = ?", id).Delete(&models.Metric{}).Error; err != nil {
			return fmt.Errorf("failed to delete metrics of host %d: %w", id, err)
		}
		return nil
	})
}
