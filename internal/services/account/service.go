package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Get(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("account not found")
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &account, nil
}

// Ensure creates the account if it does not exist yet. Used by the identity
// webhook so provisioning is idempotent.
func (s *Service) Ensure(ctx context.Context, id, email string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	account = models.Account{
		ID:    id,
		Email: email,
		Role:  models.RoleMember,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &account, nil
}

func (s *Service) IsAdmin(ctx context.Context, id string) (bool, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return account.IsAdmin(), nil
}
