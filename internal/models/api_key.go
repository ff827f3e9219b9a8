package models

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	TierFree = "free"
	TierPro  = "pro"
	TierPayg = "payg"
)

const (
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
)

const keyPrefix = "ctrl-"

var keyPattern = regexp.MustCompile(`^ctrl-[A-Za-z0-9]{16}$`)

type APIKey struct {
	Key            string `gorm:"primaryKey;size:21" json:"key"`
	Tier           string `gorm:"size:16;not null;default:'free';index" json:"tier"`
	Status         string `gorm:"size:16;not null;default:'active';index" json:"status"`
	OwnerID        string `gorm:"size:64;not null;index" json:"owner_id"`
	MonthlyQuota   int64  `gorm:"not null;default:0" json:"monthly_quota"`
	UsageThisMonth int64  `gorm:"not null;default:0" json:"usage_this_month"`
	// LinkedCredentialIDs is advisory metadata from the dashboard. The router
	// deliberately does not restrict selection by it; any active key may be
	// served by any healthy credential.
	LinkedCredentialIDs string    `gorm:"type:text" json:"linked_credential_ids,omitempty"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

func (k *APIKey) IsActive() bool {
	return k.Status == KeyStatusActive
}

// Unlimited reports whether the key is billed per token instead of being
// capped by a monthly quota.
func (k *APIKey) Unlimited() bool {
	return k.Tier == TierPayg || k.MonthlyQuota == 0
}

func (k *APIKey) LinkedCredentials() []string {
	if k.LinkedCredentialIDs == "" {
		return nil
	}
	return strings.Split(k.LinkedCredentialIDs, ",")
}

// IsWellFormedKey reports whether key matches the issued format: "ctrl-"
// followed by exactly 16 alphanumeric characters, case-sensitive.
func IsWellFormedKey(key string) bool {
	return keyPattern.MatchString(key)
}

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func GenerateKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i, v := range b {
		b[i] = keyAlphabet[int(v)%len(keyAlphabet)]
	}
	return keyPrefix + string(b), nil
}

func ValidTier(tier string) bool {
	switch tier {
	case TierFree, TierPro, TierPayg:
		return true
	}
	return false
}

type APIKeyCreateRequest struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
	Quota  *int64 `json:"quota,omitempty"`
}

// APIKeyUpdateRequest changes a key's tier or quota. Nil fields are left
// untouched.
type APIKeyUpdateRequest struct {
	Tier  *string `json:"tier,omitempty"`
	Quota *int64  `json:"quota,omitempty"`
}
