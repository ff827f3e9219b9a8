package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	healthKeyPrefix = "upstream:health:"
	loadKeyPrefix   = "upstream:load:"
	cursorKey       = "upstream:rr_cursor"
)

// Selection is one routed credential with its resolved secret. The secret
// comes from the environment via the credential's env_ref and never touches
// the database.
type Selection struct {
	ID     string
	Secret string
}

// Service selects one healthy upstream credential per request. All shared
// state (health flags, load counters, round-robin cursor) lives in the
// counter store so selection stays correct across instances.
type Service struct {
	db          *gorm.DB
	redisClient *redis.Client
	cooldown    time.Duration
}

func NewService(db *gorm.DB, redisClient *redis.Client, cooldown time.Duration) *Service {
	return &Service{db: db, redisClient: redisClient, cooldown: cooldown}
}

// Select returns a healthy credential under the given policy, or a
// no-healthy-upstream error when the pool is empty after filtering.
// Store errors fail closed: routing never guesses.
func (s *Service) Select(ctx context.Context, policy string) (*Selection, error) {
	var credentials []models.UpstreamCredential
	if err := s.db.WithContext(ctx).Order("created_at").Find(&credentials).Error; err != nil {
		return nil, fmt.Errorf("failed to load upstream credentials: %w", err)
	}

	healthy := make([]Selection, 0, len(credentials))
	for _, cred := range credentials {
		if s.MirroredStatus(ctx, cred.ID) != models.HealthStatusHealthy {
			continue
		}
		secret := os.Getenv(cred.EnvRef)
		if secret == "" {
			fiberlog.Warnf("router: credential %s has no secret in %s, skipping", cred.ID, cred.EnvRef)
			continue
		}
		healthy = append(healthy, Selection{ID: cred.ID, Secret: secret})
	}

	if len(healthy) == 0 {
		return nil, models.NewNoHealthyUpstreamError()
	}

	switch policy {
	case models.RoutingPolicyLeastLoad:
		return s.selectLeastLoad(ctx, healthy)
	default:
		return s.selectRoundRobin(ctx, healthy)
	}
}

// selectRoundRobin advances a shared cursor with a single atomic increment;
// no lock is needed for even distribution across concurrent callers.
func (s *Service) selectRoundRobin(ctx context.Context, healthy []Selection) (*Selection, error) {
	cursor, err := s.redisClient.Incr(ctx, cursorKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to advance round-robin cursor: %w", err)
	}
	selected := healthy[int((cursor-1)%int64(len(healthy)))]
	return &selected, nil
}

// selectLeastLoad picks the credential with the fewest in-flight requests,
// ties broken by list order.
func (s *Service) selectLeastLoad(ctx context.Context, healthy []Selection) (*Selection, error) {
	best := 0
	bestLoad := int64(-1)
	for i, cred := range healthy {
		load, err := s.redisClient.Get(ctx, loadKeyPrefix+cred.ID).Int64()
		if errors.Is(err, redis.Nil) {
			load = 0
		} else if err != nil {
			return nil, fmt.Errorf("failed to read load counter for %s: %w", cred.ID, err)
		}
		if load < 0 {
			load = 0
		}
		if bestLoad == -1 || load < bestLoad {
			best, bestLoad = i, load
		}
	}
	selected := healthy[best]
	return &selected, nil
}

// MirroredStatus reads the live health flag. A missing flag means an
// expired cooldown or a never-probed credential; both default to healthy.
func (s *Service) MirroredStatus(ctx context.Context, id string) string {
	status, err := s.redisClient.Get(ctx, healthKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return models.HealthStatusHealthy
	}
	if err != nil {
		fiberlog.Warnf("router: health flag read failed for %s, assuming healthy: %v", id, err)
		return models.HealthStatusHealthy
	}
	return status
}

// Acquire marks one in-flight request against the credential.
func (s *Service) Acquire(ctx context.Context, id string) {
	if err := s.redisClient.Incr(ctx, loadKeyPrefix+id).Err(); err != nil {
		fiberlog.Warnf("router: failed to increment load counter for %s: %v", id, err)
	}
}

// Release undoes Acquire once the upstream call finishes.
func (s *Service) Release(ctx context.Context, id string) {
	if err := s.redisClient.Decr(ctx, loadKeyPrefix+id).Err(); err != nil {
		fiberlog.Warnf("router: failed to decrement load counter for %s: %v", id, err)
	}
}

// LiveLoad returns the current in-flight counter for the admin view.
func (s *Service) LiveLoad(ctx context.Context, id string) int64 {
	load, err := s.redisClient.Get(ctx, loadKeyPrefix+id).Int64()
	if err != nil || load < 0 {
		return 0
	}
	return load
}

// SetHealth writes a credential's health durably and mirrors it in the
// counter store. Negative states carry the cooldown TTL so they expire back
// to implicit healthy; a healthy write sticks until the next negative one.
// Used by both the prober and live request outcomes.
func (s *Service) SetHealth(ctx context.Context, id, status string) {
	var ttl time.Duration
	if status != models.HealthStatusHealthy {
		ttl = s.cooldown
	}

	if err := s.redisClient.Set(ctx, healthKeyPrefix+id, status, ttl).Err(); err != nil {
		fiberlog.Errorf("router: failed to mirror health flag for %s: %v", id, err)
	}

	err := s.db.WithContext(ctx).Model(&models.UpstreamCredential{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"health_status":   status,
			"last_checked_at": time.Now(),
		}).Error
	if err != nil {
		fiberlog.Errorf("router: failed to persist health status for %s: %v", id, err)
	}
}

// ReportOutcome folds a live request result into the credential's health
// so the pool reacts between prober sweeps.
func (s *Service) ReportOutcome(ctx context.Context, id string, err error) {
	switch classifyOutcome(err) {
	case models.HealthStatusHealthy:
		s.SetHealth(ctx, id, models.HealthStatusHealthy)
	case models.HealthStatusRateLimited:
		fiberlog.Warnf("router: credential %s rate limited by upstream", id)
		s.SetHealth(ctx, id, models.HealthStatusRateLimited)
	default:
		fiberlog.Warnf("router: credential %s marked unhealthy: %v", id, err)
		s.SetHealth(ctx, id, models.HealthStatusUnhealthy)
	}
}

func classifyOutcome(err error) string {
	if err == nil {
		return models.HealthStatusHealthy
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Type == models.ErrorTypeRateLimit {
		return models.HealthStatusRateLimited
	}
	return models.HealthStatusUnhealthy
}
