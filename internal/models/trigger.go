package models

import (
	"math"
	"time"

	"gorm.io/gorm"
)

// DefaultTriggerDuration is applied when a trigger is created without one.
const DefaultTriggerDuration = 300

// MaxTriggerDuration is the longest duration, in seconds, that fits in a
// time.Duration.
const MaxTriggerDuration int64 = math.MaxInt64 / int64(time.Second)

// Trigger watches one metric key on one host.
type Trigger struct {
	gorm.Model
	HostID      uint       `gorm:"index;not null" json:"host_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Key         string     `gorm:"column:metric_key;index;not null" json:"key"`
	Condition   Condition  `gorm:"not null" json:"condition"`
	Threshold   float64    `json:"threshold"`
	Duration    int        `json:"duration"` // In seconds
	AlertLevel  AlertLevel `gorm:"not null" json:"alert_level"`
	Enabled     bool       `json:"enabled"`
}

// Window returns the trigger duration as a time.Duration, saturating at the
// largest representable value.
func (t *Trigger) Window() time.Duration {
	if int64(t.Duration) > MaxTriggerDuration {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(t.Duration) * time.Second
}

// Label is the human-readable name used in alert titles.
func (t *Trigger) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Key + " " + t.Condition.String()
}

// TriggerPatch is a partial update. Nil fields are left untouched.
type TriggerPatch struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Condition   *Condition  `json:"condition,omitempty"`
	Threshold   *float64    `json:"threshold,omitempty"`
	Duration    *int        `json:"duration,omitempty"`
	Enabled     *bool       `json:"enabled,omitempty"`
	AlertLevel  *AlertLevel `json:"alert_level,omitempty"`
}

// Apply returns a copy of t with the patch applied.
func (p TriggerPatch) Apply(t Trigger) Trigger {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Condition != nil {
		t.Condition = *p.Condition
	}
	if p.Threshold != nil {
		t.Threshold = *p.Threshold
	}
	if p.Duration != nil {
		t.Duration = *p.Duration
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
	if p.AlertLevel != nil {
		t.AlertLevel = *p.AlertLevel
	}
	return t
}
