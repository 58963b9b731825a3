package model

import (
	"time"
)

// SelectionPolicy decides how an account is picked inside a provider once
// sticky assignment does not apply.
type SelectionPolicy string

const (
	PolicyDefault           SelectionPolicy = ""
	PolicyRandom            SelectionPolicy = "random"
	PolicyLeastRecentlyUsed SelectionPolicy = "least_recently_used"
	PolicyWeightedUsage     SelectionPolicy = "weighted_usage"
)

// Valid reports whether p is a known policy. The empty policy defers to the
// configured default.
func (p SelectionPolicy) Valid() bool {
	switch p {
	case PolicyDefault, PolicyRandom, PolicyLeastRecentlyUsed, PolicyWeightedUsage:
		return true
	}
	return false
}

// Provider is a named pool of accounts sharing interval and rotation policy
type Provider struct {
	ID                    uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	Name                  string          `json:"name" gorm:"type:varchar(255);not null;uniqueIndex"`
	MinIntervalSeconds    int             `json:"min_interval_seconds" gorm:"not null;default:60"`
	MaxIntervalSeconds    int             `json:"max_interval_seconds" gorm:"not null;default:300"`
	EnableRandomIntervals bool            `json:"enable_random_intervals"`
	EnableAutoRotation    bool            `json:"enable_auto_rotation"`
	SelectionPolicy       SelectionPolicy `json:"selection_policy" gorm:"type:varchar(32)"`
	DefaultSenderName     string          `json:"default_sender_name" gorm:"type:varchar(255)"`
	DailyEmailLimit       int             `json:"daily_email_limit" gorm:"not null;default:500"`
	HourlyEmailLimit      int             `json:"hourly_email_limit" gorm:"not null;default:50"`
	IsActive              bool            `json:"is_active" gorm:"index"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Provider
func (Provider) TableName() string {
	return "providers"
}

// Validate checks interval and limit settings before the provider is persisted
func (p *Provider) Validate() error {
	if p.Name == "" {
		return invalid("provider", "name", "is required")
	}
	if p.MinIntervalSeconds < 0 {
		return invalid("provider", "min_interval_seconds", "cannot be negative")
	}
	if p.MinIntervalSeconds > p.MaxIntervalSeconds {
		return invalid("provider", "min_interval_seconds", "cannot be greater than max_interval_seconds")
	}
	if p.DailyEmailLimit <= 0 {
		return invalid("provider", "daily_email_limit", "must be greater than zero")
	}
	if p.HourlyEmailLimit <= 0 {
		return invalid("provider", "hourly_email_limit", "must be greater than zero")
	}
	if p.HourlyEmailLimit > p.DailyEmailLimit {
		return invalid("provider", "hourly_email_limit", "cannot be greater than daily_email_limit")
	}
	if !p.SelectionPolicy.Valid() {
		return invalid("provider", "selection_policy", "is unknown")
	}
	return nil
}

// EffectivePolicy resolves the policy used for account selection.
// Auto rotation predates the policy field and still forces least recently used.
func (p *Provider) EffectivePolicy(fallback SelectionPolicy) SelectionPolicy {
	if p.EnableAutoRotation {
		return PolicyLeastRecentlyUsed
	}
	if p.SelectionPolicy != PolicyDefault {
		return p.SelectionPolicy
	}
	if fallback == PolicyDefault {
		return PolicyWeightedUsage
	}
	return fallback
}
