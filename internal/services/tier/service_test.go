package tier

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTiers(t *testing.T) (*Service, *gorm.DB, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.TierConfig{}))

	return NewService(db, client), db, mr
}

func TestGetCachesConfig(t *testing.T) {
	svc, db, _ := setupTiers(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.TierConfig{
		Name:               models.TierFree,
		RateLimitPerMinute: 10,
		MonthlyQuota:       100000,
	}).Error)

	first, err := svc.Get(ctx, models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 10, first.RateLimitPerMinute)

	// The row is gone but the cache entry is still live.
	require.NoError(t, db.Delete(&models.TierConfig{}, "name = ?", models.TierFree).Error)

	cached, err := svc.Get(ctx, models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), cached.MonthlyQuota)
}

func TestGetCacheExpiresByTTLOnly(t *testing.T) {
	svc, db, mr := setupTiers(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.TierConfig{
		Name:               models.TierPro,
		RateLimitPerMinute: 60,
	}).Error)

	_, err := svc.Get(ctx, models.TierPro)
	require.NoError(t, err)

	// An update is invisible until the TTL lapses; there is no write-through.
	require.NoError(t, db.Model(&models.TierConfig{}).
		Where("name = ?", models.TierPro).
		Update("rate_limit_per_minute", 120).Error)

	stale, err := svc.Get(ctx, models.TierPro)
	require.NoError(t, err)
	assert.Equal(t, 60, stale.RateLimitPerMinute)

	mr.FastForward(models.TierConfigCacheTTL + time.Second)

	fresh, err := svc.Get(ctx, models.TierPro)
	require.NoError(t, err)
	assert.Equal(t, 120, fresh.RateLimitPerMinute)
}

func TestGetUnknownTier(t *testing.T) {
	svc, _, _ := setupTiers(t)

	_, err := svc.Get(context.Background(), "platinum")
	require.Error(t, err)
}

func TestUpsertValidation(t *testing.T) {
	svc, _, _ := setupTiers(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, &models.TierUpsertRequest{Name: "platinum", RateLimitPerMinute: 1})
	require.Error(t, err)

	_, err = svc.Upsert(ctx, &models.TierUpsertRequest{Name: models.TierFree, RateLimitPerMinute: 0})
	require.Error(t, err)

	_, err = svc.Upsert(ctx, &models.TierUpsertRequest{
		Name:               models.TierFree,
		RateLimitPerMinute: 10,
		MonthlyQuota:       -1,
	})
	require.Error(t, err)
}

func TestUpsertThenDelete(t *testing.T) {
	svc, _, _ := setupTiers(t)
	ctx := context.Background()

	cfg, err := svc.Upsert(ctx, &models.TierUpsertRequest{
		Name:               models.TierPayg,
		RateLimitPerMinute: 100,
		PricePerToken:      0.00001,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TierPayg, cfg.Name)

	require.NoError(t, svc.Delete(ctx, models.TierPayg))
	require.Error(t, svc.Delete(ctx, models.TierPayg))
}
