package models

import "time"

const (
	HealthStatusHealthy     = "healthy"
	HealthStatusRateLimited = "rate_limited"
	HealthStatusUnhealthy   = "unhealthy"
)

const (
	RoutingPolicyRoundRobin = "round_robin"
	RoutingPolicyLeastLoad  = "least_load"
)

// UpstreamCredential identifies one OpenRouter key in the pool. The secret
// itself never lands in the database; EnvRef names the environment variable
// that holds it.
type UpstreamCredential struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	EnvRef        string    `gorm:"size:128;not null" json:"env_ref"`
	Notes         string    `gorm:"type:text" json:"notes,omitempty"`
	HealthStatus  string    `gorm:"size:16;not null;default:'healthy'" json:"health_status"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UpstreamCredential) TableName() string {
	return "upstream_credentials"
}

type CredentialCreateRequest struct {
	ID      string `json:"id"`
	EnvName string `json:"env_name"`
	Notes   string `json:"notes,omitempty"`
}

// CredentialResponse is the admin view: the durable record plus the live
// mirrored health flag and in-flight load from the counter store.
type CredentialResponse struct {
	UpstreamCredential
	LiveStatus string `json:"live_status"`
	LiveLoad   int64  `json:"live_load"`
}

type ProbeResult struct {
	ID      string `json:"id"`
	EnvName string `json:"env_name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
