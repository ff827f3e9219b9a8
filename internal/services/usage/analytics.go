package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
)

var analyticsPeriods = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

func ParsePeriod(period string) (time.Duration, error) {
	d, ok := analyticsPeriods[period]
	if !ok {
		return 0, models.NewValidationError(fmt.Sprintf("invalid period: %s", period), nil)
	}
	return d, nil
}

// Stats aggregates the usage log over the trailing period.
func (s *Service) Stats(ctx context.Context, period time.Duration) (*models.UsageStats, error) {
	since := time.Now().Add(-period)

	var stats models.UsageStats
	err := s.db.WithContext(ctx).
		Model(&models.UsageLogEntry{}).
		Where("timestamp >= ?", since).
		Select(
			"COUNT(*) as total_requests",
			"COUNT(CASE WHEN success THEN 1 END) as success_requests",
			"COUNT(CASE WHEN NOT success THEN 1 END) as failed_requests",
			"COALESCE(SUM(tokens_used), 0) as total_tokens",
			"COUNT(DISTINCT api_key) as active_keys",
			"COUNT(DISTINCT owner_id) as active_users",
			"COALESCE(AVG(tokens_used), 0) as avg_tokens",
		).
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage stats: %w", err)
	}

	return &stats, nil
}

// TopUsers lists the most active owners over the trailing period.
func (s *Service) TopUsers(ctx context.Context, period time.Duration, limit int) ([]models.UserActivity, error) {
	since := time.Now().Add(-period)
	if limit <= 0 {
		limit = 20
	}

	var users []models.UserActivity
	err := s.db.WithContext(ctx).
		Model(&models.UsageLogEntry{}).
		Where("timestamp >= ?", since).
		Select(
			"owner_id",
			"COUNT(*) as requests",
			"COALESCE(SUM(tokens_used), 0) as tokens_used",
		).
		Group("owner_id").
		Order("requests DESC").
		Limit(limit).
		Scan(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate user activity: %w", err)
	}

	return users, nil
}

// ErrorBreakdown counts failed attempts by error code over the trailing
// period.
func (s *Service) ErrorBreakdown(ctx context.Context, period time.Duration) ([]models.ErrorBreakdown, error) {
	since := time.Now().Add(-period)

	var breakdown []models.ErrorBreakdown
	err := s.db.WithContext(ctx).
		Model(&models.UsageLogEntry{}).
		Where("timestamp >= ? AND success = ?", since, false).
		Select("error_code", "COUNT(*) as count").
		Group("error_code").
		Order("count DESC").
		Scan(&breakdown).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate error breakdown: %w", err)
	}

	return breakdown, nil
}
