package apikey

import (
	"context"
	"errors"
	"fmt"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"gorm.io/gorm"
)

// ErrKeyNotFound covers malformed, unknown and revoked keys alike so callers
// cannot distinguish them. Handlers map it to a generic 401.
var ErrKeyNotFound = errors.New("invalid or inactive API key")

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// IsWellFormed reports whether key matches the issued "ctrl-" format.
// Pure, no I/O.
func (s *Service) IsWellFormed(key string) bool {
	return models.IsWellFormedKey(key)
}

// Lookup fetches an active key record. Malformed keys are rejected before
// any store access. Store errors fail closed.
func (s *Service) Lookup(ctx context.Context, key string) (*models.APIKey, error) {
	if !models.IsWellFormedKey(key) {
		return nil, ErrKeyNotFound
	}

	var record models.APIKey
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	if !record.IsActive() {
		return nil, ErrKeyNotFound
	}

	return &record, nil
}

func (s *Service) Create(ctx context.Context, req *models.APIKeyCreateRequest) (*models.APIKey, error) {
	if req.UserID == "" {
		return nil, models.NewValidationError("user_id is required", nil)
	}
	if !models.ValidTier(req.Tier) {
		return nil, models.NewValidationError(fmt.Sprintf("unknown tier: %s", req.Tier), nil)
	}

	var owner models.Account
	if err := s.db.WithContext(ctx).First(&owner, "id = ?", req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("user not found")
		}
		return nil, fmt.Errorf("failed to load owner account: %w", err)
	}

	quota, err := s.resolveQuota(ctx, req)
	if err != nil {
		return nil, err
	}

	key, err := models.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	record := &models.APIKey{
		Key:          key,
		Tier:         req.Tier,
		Status:       models.KeyStatusActive,
		OwnerID:      req.UserID,
		MonthlyQuota: quota,
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return record, nil
}

func (s *Service) resolveQuota(ctx context.Context, req *models.APIKeyCreateRequest) (int64, error) {
	if req.Quota != nil {
		if *req.Quota < 0 {
			return 0, models.NewValidationError("quota must be non-negative", nil)
		}
		return *req.Quota, nil
	}

	var tier models.TierConfig
	if err := s.db.WithContext(ctx).First(&tier, "name = ?", req.Tier).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load tier defaults: %w", err)
	}
	return tier.MonthlyQuota, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.APIKey, int64, error) {
	var (
		keys  []models.APIKey
		total int64
	)

	if err := s.db.WithContext(ctx).Model(&models.APIKey{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count API keys: %w", err)
	}

	query := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}
	if err := query.Find(&keys).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list API keys: %w", err)
	}

	return keys, total, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list API keys for owner: %w", err)
	}
	return keys, nil
}

// Update changes a key's tier or quota in place. Usage counters are kept;
// a tier change does not reset the month.
func (s *Service) Update(ctx context.Context, key string, req *models.APIKeyUpdateRequest) (*models.APIKey, error) {
	var record models.APIKey
	if err := s.db.WithContext(ctx).First(&record, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("API key not found")
		}
		return nil, fmt.Errorf("failed to load API key: %w", err)
	}

	updates := map[string]any{}
	if req.Tier != nil {
		if !models.ValidTier(*req.Tier) {
			return nil, models.NewValidationError(fmt.Sprintf("unknown tier: %s", *req.Tier), nil)
		}
		updates["tier"] = *req.Tier
		record.Tier = *req.Tier
	}
	if req.Quota != nil {
		if *req.Quota < 0 {
			return nil, models.NewValidationError("quota must be non-negative", nil)
		}
		updates["monthly_quota"] = *req.Quota
		record.MonthlyQuota = *req.Quota
	}
	if len(updates) == 0 {
		return &record, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("key = ?", key).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update API key: %w", err)
	}
	return &record, nil
}

// Revoke flips the key to revoked. Irreversible in the normal flow; records
// are never deleted here.
func (s *Service) Revoke(ctx context.Context, key string) error {
	result := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("key = ?", key).
		Update("status", models.KeyStatusRevoked)
	if result.Error != nil {
		return fmt.Errorf("failed to revoke API key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("API key not found")
	}
	return nil
}
