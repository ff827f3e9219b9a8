package tier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const cacheKeyPrefix = "tier:"

// Service serves tier configuration with a bounded-TTL Redis cache in front
// of the database. The cache is invalidated by TTL expiry only; a tier
// update may take up to models.TierConfigCacheTTL to reach cached readers.
type Service struct {
	db          *gorm.DB
	redisClient *redis.Client
}

func NewService(db *gorm.DB, redisClient *redis.Client) *Service {
	return &Service{db: db, redisClient: redisClient}
}

// Get returns the tier config, serving from cache when possible.
func (s *Service) Get(ctx context.Context, name string) (*models.TierConfig, error) {
	cacheKey := cacheKeyPrefix + name

	if cached, err := s.redisClient.Get(ctx, cacheKey).Result(); err == nil {
		var cfg models.TierConfig
		if err := json.Unmarshal([]byte(cached), &cfg); err == nil {
			return &cfg, nil
		}
		fiberlog.Warnf("tier: discarding unparseable cache entry for %q", name)
	}

	var cfg models.TierConfig
	if err := s.db.WithContext(ctx).First(&cfg, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError(fmt.Sprintf("tier %q not configured", name))
		}
		return nil, fmt.Errorf("failed to load tier config: %w", err)
	}

	if data, err := json.Marshal(&cfg); err == nil {
		if err := s.redisClient.Set(ctx, cacheKey, data, models.TierConfigCacheTTL).Err(); err != nil {
			fiberlog.Warnf("tier: failed to cache %q: %v", name, err)
		}
	}

	return &cfg, nil
}

func (s *Service) List(ctx context.Context) ([]models.TierConfig, error) {
	var tiers []models.TierConfig
	if err := s.db.WithContext(ctx).Order("name").Find(&tiers).Error; err != nil {
		return nil, fmt.Errorf("failed to list tier configs: %w", err)
	}
	return tiers, nil
}

func (s *Service) Upsert(ctx context.Context, req *models.TierUpsertRequest) (*models.TierConfig, error) {
	if !models.ValidTier(req.Name) {
		return nil, models.NewValidationError(fmt.Sprintf("unknown tier: %s", req.Name), nil)
	}
	if req.RateLimitPerMinute <= 0 {
		return nil, models.NewValidationError("rate_limit_per_minute must be positive", nil)
	}
	if req.MonthlyQuota < 0 || req.PricePerToken < 0 {
		return nil, models.NewValidationError("monthly_quota and price_per_token must be non-negative", nil)
	}

	cfg := models.TierConfig{
		Name:               req.Name,
		RateLimitPerMinute: req.RateLimitPerMinute,
		MonthlyQuota:       req.MonthlyQuota,
		PricePerToken:      req.PricePerToken,
		DefaultModel:       req.DefaultModel,
	}

	if err := s.db.WithContext(ctx).Save(&cfg).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert tier config: %w", err)
	}

	return &cfg, nil
}

func (s *Service) Delete(ctx context.Context, name string) error {
	result := s.db.WithContext(ctx).Delete(&models.TierConfig{}, "name = ?", name)
	if result.Error != nil {
		return fmt.Errorf("failed to delete tier config: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("tier not found")
	}
	return nil
}
