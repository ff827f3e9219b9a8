package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/billing"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/tier"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// quotaKeyPrefix must match the admission controller's quota mirror prefix;
// the recorder advances the same counter the admission check reads.
const quotaKeyPrefix = "quota:"

// Service is the usage recorder: it is invoked exactly once per request
// attempt, after the terminal outcome is known, and never speculatively.
type Service struct {
	db          *gorm.DB
	redisClient *redis.Client
	tiers       *tier.Service
	billing     *billing.Service
}

func NewService(db *gorm.DB, redisClient *redis.Client, tiers *tier.Service, billingService *billing.Service) *Service {
	return &Service{db: db, redisClient: redisClient, tiers: tiers, billing: billingService}
}

// RecordSuccess advances the durable usage counters, mirrors the delta into
// the counter store, accrues pay-as-you-go charges and appends the log
// entry.
func (s *Service) RecordSuccess(ctx context.Context, key *models.APIKey, params models.RecordSuccessParams) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.APIKey{}).
			Where("key = ?", params.APIKey).
			Update("usage_this_month", gorm.Expr("usage_this_month + ?", params.TokensUsed)).Error; err != nil {
			return fmt.Errorf("failed to increment key usage: %w", err)
		}
		if err := tx.Model(&models.Account{}).
			Where("id = ?", params.OwnerID).
			Update("usage_total_tokens", gorm.Expr("usage_total_tokens + ?", params.TokensUsed)).Error; err != nil {
			return fmt.Errorf("failed to increment owner usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mirrorUsage(ctx, params.APIKey, params.TokensUsed)

	if key.Tier == models.TierPayg {
		if err := s.accrue(ctx, key, params); err != nil {
			// The usage itself is recorded; a billing failure must not turn
			// a served request into an error.
			fiberlog.Errorf("usage: failed to accrue charge for %s: %v", params.OwnerID, err)
		}
	}

	return s.appendEntry(ctx, models.UsageLogEntry{
		ID:                     uuid.NewString(),
		APIKey:                 params.APIKey,
		OwnerID:                params.OwnerID,
		Timestamp:              time.Now(),
		Endpoint:               params.Endpoint,
		TokensUsed:             params.TokensUsed,
		Success:                true,
		UpstreamCredentialUsed: params.CredentialUsed,
	})
}

// RecordFailure appends the log entry for a failed attempt. Usage and quota
// counters are untouched.
func (s *Service) RecordFailure(ctx context.Context, params models.RecordFailureParams) error {
	return s.appendEntry(ctx, models.UsageLogEntry{
		ID:         uuid.NewString(),
		APIKey:     params.APIKey,
		OwnerID:    params.OwnerID,
		Timestamp:  time.Now(),
		Endpoint:   params.Endpoint,
		TokensUsed: 0,
		Success:    false,
		ErrorCode:  params.ErrorCode,
	})
}

func (s *Service) appendEntry(ctx context.Context, entry models.UsageLogEntry) error {
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append usage log entry: %w", err)
	}
	return nil
}

// mirrorUsage advances the ephemeral quota counter when one exists. A
// missing mirror is left alone: the next quota check reseeds it from the
// durable field, which now includes this delta.
func (s *Service) mirrorUsage(ctx context.Context, key string, tokens int64) {
	counterKey := quotaKeyPrefix + key

	exists, err := s.redisClient.Exists(ctx, counterKey).Result()
	if err != nil || exists == 0 {
		return
	}
	if err := s.redisClient.IncrBy(ctx, counterKey, tokens).Err(); err != nil {
		fiberlog.Warnf("usage: failed to advance quota mirror for %s: %v", key, err)
	}
}

func (s *Service) accrue(ctx context.Context, key *models.APIKey, params models.RecordSuccessParams) error {
	tierCfg, err := s.tiers.Get(ctx, key.Tier)
	if err != nil {
		return err
	}
	return s.billing.AccrueCharge(ctx, params.OwnerID, float64(params.TokensUsed)*tierCfg.PricePerToken)
}
