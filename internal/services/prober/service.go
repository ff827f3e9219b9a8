package prober

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/openrouter"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/router"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const probeConcurrency = 4

// Service sweeps the credential pool against the upstream auth-check
// endpoint and writes back tri-state health. It never self-schedules: runs
// are triggered by the cron endpoint or the optional in-process ticker.
type Service struct {
	db       *gorm.DB
	client   *openrouter.Client
	router   *router.Service
	cooldown time.Duration
}

func NewService(db *gorm.DB, client *openrouter.Client, routerService *router.Service, cooldown time.Duration) *Service {
	return &Service{db: db, client: client, router: routerService, cooldown: cooldown}
}

// Sweep probes every credential and returns one report per credential. A
// failure for one credential is reported locally and never aborts the rest
// of the sweep.
func (s *Service) Sweep(ctx context.Context) ([]models.ProbeResult, error) {
	var credentials []models.UpstreamCredential
	if err := s.db.WithContext(ctx).Order("created_at").Find(&credentials).Error; err != nil {
		return nil, fmt.Errorf("failed to load upstream credentials: %w", err)
	}

	results := make([]models.ProbeResult, len(credentials))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, cred := range credentials {
		i, cred := i, cred
		g.Go(func() error {
			results[i] = s.probeOne(gctx, cred)
			return nil
		})
	}
	// Workers only ever return nil; partial failures live in the reports.
	_ = g.Wait()

	return results, nil
}

func (s *Service) probeOne(ctx context.Context, cred models.UpstreamCredential) (result models.ProbeResult) {
	result = models.ProbeResult{ID: cred.ID, EnvName: cred.EnvRef}

	defer func() {
		if r := recover(); r != nil {
			fiberlog.Errorf("prober: panic probing %s: %v", cred.ID, r)
			result.Status = models.HealthStatusUnhealthy
			result.Message = fmt.Sprintf("probe panicked: %v", r)
			s.router.SetHealth(ctx, cred.ID, models.HealthStatusUnhealthy)
		}
	}()

	// A credential still cooling down from an upstream 429 keeps its
	// previous status; probing it again would hammer an already-limited
	// upstream.
	if cred.HealthStatus == models.HealthStatusRateLimited && time.Since(cred.LastCheckedAt) < s.cooldown {
		result.Status = cred.HealthStatus
		result.Message = "skipped"
		return result
	}

	secret := os.Getenv(cred.EnvRef)
	if secret == "" {
		result.Status = models.HealthStatusUnhealthy
		result.Message = fmt.Sprintf("configuration error: %s is not set", cred.EnvRef)
		s.router.SetHealth(ctx, cred.ID, models.HealthStatusUnhealthy)
		return result
	}

	status, message := s.classifyProbe(ctx, secret)
	result.Status = status
	result.Message = message
	s.router.SetHealth(ctx, cred.ID, status)

	fiberlog.Infof("prober: credential %s -> %s (%s)", cred.ID, status, message)
	return result
}

func (s *Service) classifyProbe(ctx context.Context, secret string) (status, message string) {
	code, err := s.client.CheckKey(ctx, secret)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return models.HealthStatusUnhealthy, "timed out"
		}
		return models.HealthStatusUnhealthy, err.Error()
	}

	switch code {
	case http.StatusOK:
		return models.HealthStatusHealthy, "ok"
	case http.StatusTooManyRequests:
		return models.HealthStatusRateLimited, "rate limited by upstream"
	default:
		return models.HealthStatusUnhealthy, fmt.Sprintf("unexpected status %d", code)
	}
}
