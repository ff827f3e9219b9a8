package scheduler

import (
	"context"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/services/prober"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// HealthCheckScheduler runs the prober sweep on an interval for deployments
// without an external cron. The cron endpoint remains the primary trigger.
type HealthCheckScheduler struct {
	proberService *prober.Service
	interval      time.Duration
	stopChan      chan struct{}
}

func NewHealthCheckScheduler(proberService *prober.Service, interval time.Duration) *HealthCheckScheduler {
	return &HealthCheckScheduler{
		proberService: proberService,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

func (s *HealthCheckScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	fiberlog.Infof("health-check scheduler started, running every %s", s.interval)

	for {
		select {
		case <-ticker.C:
			if _, err := s.proberService.Sweep(ctx); err != nil {
				fiberlog.Errorf("scheduled health sweep failed: %v", err)
			}
		case <-s.stopChan:
			fiberlog.Info("health-check scheduler stopped")
			return
		case <-ctx.Done():
			fiberlog.Info("health-check scheduler stopped due to context cancellation")
			return
		}
	}
}

func (s *HealthCheckScheduler) Stop() {
	close(s.stopChan)
}
