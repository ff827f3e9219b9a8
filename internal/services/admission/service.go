package admission

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/tier"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	rateLimitKeyPrefix = "ratelimit:"
	quotaKeyPrefix     = "quota:"

	// rateLimitWindow is a fixed window: the TTL is set once on the first
	// request and never extended by later hits.
	rateLimitWindow = time.Minute
	quotaMirrorTTL  = 30 * 24 * time.Hour

	// Synthetic allowance returned when the counter store is unreachable
	// and the rate check fails open.
	failOpenLimit     = 1000
	failOpenRemaining = 999

	// defaultCompletionBudget stands in for max_tokens when the request
	// does not set one.
	defaultCompletionBudget = 256
)

// Service is the admission controller: fixed-window request-rate limiting
// plus monthly token quota, both backed by the counter store.
type Service struct {
	redisClient *redis.Client
	tiers       *tier.Service
}

func NewService(redisClient *redis.Client, tiers *tier.Service) *Service {
	return &Service{redisClient: redisClient, tiers: tiers}
}

// CheckRateLimit applies the fixed one-minute window for the key's tier.
// Rejected requests do not increment the counter. Infrastructure errors
// fail open per PolicyFor(CheckRateLimit).
func (s *Service) CheckRateLimit(ctx context.Context, key *models.APIKey) models.RateLimitResult {
	tierCfg, err := s.tiers.Get(ctx, key.Tier)
	if err != nil {
		fiberlog.Errorf("admission: tier lookup failed for %s, failing open: %v", key.Tier, err)
		return failOpenResult()
	}
	limit := tierCfg.RateLimitPerMinute

	now := time.Now()
	counterKey := rateLimitKeyPrefix + key.Key

	count, err := s.redisClient.Get(ctx, counterKey).Int()
	if errors.Is(err, redis.Nil) {
		// First request in this window.
		if err := s.redisClient.Set(ctx, counterKey, 1, rateLimitWindow).Err(); err != nil {
			fiberlog.Errorf("admission: failed to open rate window, failing open: %v", err)
			return failOpenResult()
		}
		return models.RateLimitResult{
			Limited:   false,
			Remaining: limit - 1,
			Limit:     limit,
			ResetAt:   now.Add(rateLimitWindow),
		}
	}
	if err != nil {
		fiberlog.Errorf("admission: rate window read failed, failing open: %v", err)
		return failOpenResult()
	}

	if count >= limit {
		resetAt := now.Add(rateLimitWindow)
		if ttl, err := s.redisClient.TTL(ctx, counterKey).Result(); err == nil && ttl > 0 {
			resetAt = now.Add(ttl)
		}
		return models.RateLimitResult{
			Limited:   true,
			Remaining: 0,
			Limit:     limit,
			ResetAt:   resetAt,
		}
	}

	newCount, err := s.redisClient.Incr(ctx, counterKey).Result()
	if err != nil {
		fiberlog.Errorf("admission: rate window increment failed, failing open: %v", err)
		return failOpenResult()
	}
	if newCount == 1 {
		// The window expired between GET and INCR; this increment opened a
		// fresh one.
		s.redisClient.Expire(ctx, counterKey, rateLimitWindow)
	}

	remaining := limit - int(newCount)
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(rateLimitWindow)
	if ttl, err := s.redisClient.TTL(ctx, counterKey).Result(); err == nil && ttl > 0 {
		resetAt = now.Add(ttl)
	}

	return models.RateLimitResult{
		Limited:   false,
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   resetAt,
	}
}

// CheckTokenQuota reports whether admitting tokensRequested would push the
// key past its monthly quota. The ephemeral counter is lazily seeded from
// the durable usage field. Infrastructure errors fail open.
func (s *Service) CheckTokenQuota(ctx context.Context, key *models.APIKey, tokensRequested int64) bool {
	if key.Unlimited() {
		return false
	}

	counterKey := quotaKeyPrefix + key.Key

	current, err := s.redisClient.Get(ctx, counterKey).Int64()
	if errors.Is(err, redis.Nil) {
		current = key.UsageThisMonth
		if err := s.redisClient.Set(ctx, counterKey, strconv.FormatInt(current, 10), quotaMirrorTTL).Err(); err != nil {
			fiberlog.Errorf("admission: failed to seed quota mirror, failing open: %v", err)
			return false
		}
	} else if err != nil {
		fiberlog.Errorf("admission: quota mirror read failed, failing open: %v", err)
		return false
	}

	return current+tokensRequested > key.MonthlyQuota
}

// EstimateTokens is the cheap pre-admission heuristic: roughly four
// characters per prompt token plus the requested completion budget. The
// post-hoc recorded usage may land either side of it; quota enforcement is
// soft by design.
func EstimateTokens(prompt string, maxTokensRequested int64) int64 {
	budget := maxTokensRequested
	if budget <= 0 {
		budget = defaultCompletionBudget
	}
	return int64(len(prompt)/4) + budget
}

func failOpenResult() models.RateLimitResult {
	return models.RateLimitResult{
		Limited:   false,
		Remaining: failOpenRemaining,
		Limit:     failOpenLimit,
		ResetAt:   time.Now().Add(rateLimitWindow),
	}
}
