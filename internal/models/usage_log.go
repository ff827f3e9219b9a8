package models

import "time"

// Error codes recorded on failed attempts.
const (
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeQuotaExceeded     = "quota_exceeded"
	ErrCodeNoHealthyUpstream = "no_healthy_upstream"
	ErrCodeUpstreamError     = "upstream_error"
	ErrCodeUpstreamTimeout   = "upstream_timeout"
	ErrCodeInternal          = "internal_error"
)

// UsageLogEntry is append-only: one row per request attempt, never mutated.
type UsageLogEntry struct {
	ID                     string    `gorm:"primaryKey;size:36" json:"id"`
	APIKey                 string    `gorm:"size:21;not null;index" json:"api_key"`
	OwnerID                string    `gorm:"size:64;index" json:"owner_id"`
	Timestamp              time.Time `gorm:"index" json:"timestamp"`
	Endpoint               string    `gorm:"size:64" json:"endpoint"`
	TokensUsed             int64     `gorm:"not null;default:0" json:"tokens_used"`
	Success                bool      `gorm:"index" json:"success"`
	ErrorCode              string    `gorm:"size:32" json:"error_code,omitempty"`
	UpstreamCredentialUsed string    `gorm:"size:64" json:"upstream_credential_used,omitempty"`
}

func (UsageLogEntry) TableName() string {
	return "usage_log_entries"
}

type RecordSuccessParams struct {
	APIKey         string
	OwnerID        string
	Endpoint       string
	TokensUsed     int64
	CredentialUsed string
}

type RecordFailureParams struct {
	APIKey    string
	OwnerID   string
	Endpoint  string
	ErrorCode string
}

type UsageStats struct {
	TotalRequests   int64   `json:"total_requests"`
	SuccessRequests int64   `json:"success_requests"`
	FailedRequests  int64   `json:"failed_requests"`
	TotalTokens     int64   `json:"total_tokens"`
	ActiveKeys      int64   `json:"active_keys"`
	ActiveUsers     int64   `json:"active_users"`
	AvgTokens       float64 `json:"avg_tokens"`
}

type ErrorBreakdown struct {
	ErrorCode string `json:"error_code"`
	Count     int64  `json:"count"`
}

type UserActivity struct {
	OwnerID    string `json:"owner_id"`
	Requests   int64  `json:"requests"`
	TokensUsed int64  `json:"tokens_used"`
}
