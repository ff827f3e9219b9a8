package models

import "time"

// TierConfigCacheTTL bounds how stale a cached tier read may be. Tier
// updates propagate by TTL expiry, not write-through.
const TierConfigCacheTTL = time.Hour

type TierConfig struct {
	Name               string    `gorm:"primaryKey;size:16" json:"name"`
	RateLimitPerMinute int       `gorm:"not null" json:"rate_limit_per_minute"`
	MonthlyQuota       int64     `gorm:"not null;default:0" json:"monthly_quota"`
	PricePerToken      float64   `gorm:"type:decimal(12,8);default:0" json:"price_per_token"`
	DefaultModel       string    `gorm:"size:128" json:"default_model"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TierConfig) TableName() string {
	return "tier_configs"
}

type TierUpsertRequest struct {
	Name               string  `json:"name"`
	RateLimitPerMinute int     `json:"rate_limit_per_minute"`
	MonthlyQuota       int64   `json:"monthly_quota"`
	PricePerToken      float64 `json:"price_per_token"`
	DefaultModel       string  `json:"default_model"`
}
