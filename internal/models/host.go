package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	HostStatusUnknown = "unknown"
	HostStatusOnline  = "online"
	HostStatusOffline = "offline"
)

// Host is a monitored machine owned by a user.
type Host struct {
	gorm.Model
	Name      string     `gorm:"uniqueIndex;not null" json:"name"`
	IPAddress string     `gorm:"index" json:"ip_address"`
	Status    string     `gorm:"default:unknown" json:"status"`
	Tags      []string   `gorm:"serializer:json" json:"tags"`
	UserID    uint       `gorm:"index;not null" json:"user_id"`
	LastSeen  *time.Time `json:"last_seen"`
}

// Metric is one immutable sample as stored. Never updated after insert.
type Metric struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	HostID    uint      `gorm:"index:idx_metric_host_key_ts,priority:1;not null" json:"host_id"`
	Key       string    `gorm:"column:metric_key;index:idx_metric_host_key_ts,priority:2;not null" json:"key"`
	Value     float64   `json:"value"`
	Timestamp time.Time `gorm:"index:idx_metric_host_key_ts,priority:3" json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}
