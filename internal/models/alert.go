package models

import (
	"time"

	"gorm.io/gorm"
)

type AlertLevel string

const (
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelOK       AlertLevel = "ok"
)

// Valid reports whether l is a known level.
func (l AlertLevel) Valid() bool {
	switch l {
	case AlertLevelCritical, AlertLevelWarning, AlertLevelInfo, AlertLevelOK:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"
	AlertStatusResolved AlertStatus = "resolved"
)

// Alert is the derived record of a trigger having fired. TriggerID is nil for
// alerts opened by an operator.
type Alert struct {
	gorm.Model
	Ref         string      `gorm:"uniqueIndex;size:36" json:"ref"`
	TriggerID   *uint       `gorm:"index" json:"trigger_id"`
	HostID      uint        `gorm:"index;not null" json:"host_id"`
	Key         string      `gorm:"column:metric_key;index" json:"key"`
	Title       string      `json:"title"`
	Message     string      `json:"message"`
	Level       AlertLevel  `gorm:"not null" json:"level"`
	Status      AlertStatus `gorm:"index;not null" json:"status"`
	Value       float64     `json:"value"`
	Threshold   float64     `json:"threshold"`
	TriggeredAt time.Time   `gorm:"index" json:"triggered_at"`
	ResolvedAt  *time.Time  `json:"resolved_at"`
}

// IsActive reports whether the alert has not been resolved yet.
func (a *Alert) IsActive() bool {
	return a.Status == AlertStatusActive
}
