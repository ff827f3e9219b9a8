package models

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Account struct {
	ID               string    `gorm:"primaryKey;size:64" json:"id"`
	Email            string    `gorm:"size:255;index" json:"email"`
	Role             string    `gorm:"size:16;not null;default:'member'" json:"role"`
	UsageTotalTokens int64     `gorm:"not null;default:0" json:"usage_total_tokens"`
	OwedBalance      float64   `gorm:"type:decimal(12,6);default:0" json:"owed_balance"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}
