package router

import (
	"context"
	"errors"
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

const testCooldown = 5 * time.Minute

func setupRouter(t *testing.T) (*Service, *gorm.DB, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.UpstreamCredential{}))

	return NewService(db, client, testCooldown), db, mr
}

// seedPool creates credentials a, b, c with resolvable secrets, in that
// creation order.
func seedPool(t *testing.T, db *gorm.DB) {
	t.Helper()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"cred-a", "cred-b", "cred-c"} {
		t.Setenv("TEST_UPSTREAM_"+id[len(id)-1:], "secret-"+id)
		require.NoError(t, db.Create(&models.UpstreamCredential{
			ID:            id,
			EnvRef:        "TEST_UPSTREAM_" + id[len(id)-1:],
			HealthStatus:  models.HealthStatusHealthy,
			LastCheckedAt: base,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}
}

func TestSelectRoundRobinRotates(t *testing.T) {
	svc, db, _ := setupRouter(t)
	seedPool(t, db)

	var got []string
	for i := 0; i < 6; i++ {
		sel, err := svc.Select(context.Background(), models.RoutingPolicyRoundRobin)
		require.NoError(t, err)
		got = append(got, sel.ID)
	}
	assert.Equal(t, []string{"cred-a", "cred-b", "cred-c", "cred-a", "cred-b", "cred-c"}, got)
}

func TestSelectResolvesSecretFromEnv(t *testing.T) {
	svc, db, _ := setupRouter(t)
	seedPool(t, db)

	sel, err := svc.Select(context.Background(), models.RoutingPolicyRoundRobin)
	require.NoError(t, err)
	assert.Equal(t, "secret-"+sel.ID, sel.Secret)
}

func TestSelectSkipsFlaggedCredentials(t *testing.T) {
	svc, db, _ := setupRouter(t)
	seedPool(t, db)

	svc.SetHealth(context.Background(), "cred-b", models.HealthStatusRateLimited)

	for i := 0; i < 4; i++ {
		sel, err := svc.Select(context.Background(), models.RoutingPolicyRoundRobin)
		require.NoError(t, err)
		assert.NotEqual(t, "cred-b", sel.ID)
	}
}

func TestSelectSkipsCredentialsWithoutSecret(t *testing.T) {
	svc, db, _ := setupRouter(t)
	seedPool(t, db)
	t.Setenv("TEST_UPSTREAM_b", "")

	for i := 0; i < 4; i++ {
		sel, err := svc.Select(context.Background(), models.RoutingPolicyRoundRobin)
		require.NoError(t, err)
		assert.NotEqual(t, "cred-b", sel.ID)
	}
}

func TestSelectEmptyPoolFailsClosed(t *testing.T) {
	svc, db, _ := setupRouter(t)
	seedPool(t, db)

	for _, id := range []string{"cred-a", "cred-b", "cred-c"} {
		svc.SetHealth(context.Background(), id, models.HealthStatusUnhealthy)
	}

	_, err := svc.Select(context.Background(), models.RoutingPolicyRoundRobin)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, models.ErrCodeNoHealthyUpstream, appErr.Code)
}

func TestSelectLeastLoadPicksIdlest(t *testing.T) {
	svc, db, mr := setupRouter(t)
	seedPool(t, db)

	require.NoError(t, mr.Set("upstream:load:cred-a", "5"))
	require.NoError(t, mr.Set("upstream:load:cred-b", "2"))
	require.NoError(t, mr.Set("upstream:load:cred-c", "8"))

	sel, err := svc.Select(context.Background(), models.RoutingPolicyLeastLoad)
	require.NoError(t, err)
	assert.Equal(t, "cred-b", sel.ID)
}

func TestSelectLeastLoadTieBreaksByOrder(t *testing.T) {
	svc, db, _ := setupRouter(t)
	seedPool(t, db)

	sel, err := svc.Select(context.Background(), models.RoutingPolicyLeastLoad)
	require.NoError(t, err)
	assert.Equal(t, "cred-a", sel.ID)
}

func TestAcquireReleaseTracksLiveLoad(t *testing.T) {
	svc, db, _ := setupRouter(t)
	seedPool(t, db)
	ctx := context.Background()

	svc.Acquire(ctx, "cred-a")
	svc.Acquire(ctx, "cred-a")
	assert.Equal(t, int64(2), svc.LiveLoad(ctx, "cred-a"))

	svc.Release(ctx, "cred-a")
	assert.Equal(t, int64(1), svc.LiveLoad(ctx, "cred-a"))

	svc.Release(ctx, "cred-a")
	assert.Equal(t, int64(0), svc.LiveLoad(ctx, "cred-a"))
}

func TestNegativeHealthExpiresBackToHealthy(t *testing.T) {
	svc, db, mr := setupRouter(t)
	seedPool(t, db)
	ctx := context.Background()

	svc.SetHealth(ctx, "cred-a", models.HealthStatusUnhealthy)
	assert.Equal(t, models.HealthStatusUnhealthy, svc.MirroredStatus(ctx, "cred-a"))

	mr.FastForward(testCooldown + time.Second)
	assert.Equal(t, models.HealthStatusHealthy, svc.MirroredStatus(ctx, "cred-a"))
}

func TestSetHealthPersistsDurably(t *testing.T) {
	svc, db, _ := setupRouter(t)
	seedPool(t, db)

	svc.SetHealth(context.Background(), "cred-b", models.HealthStatusRateLimited)

	var cred models.UpstreamCredential
	require.NoError(t, db.First(&cred, "id = ?", "cred-b").Error)
	assert.Equal(t, models.HealthStatusRateLimited, cred.HealthStatus)
	assert.WithinDuration(t, time.Now(), cred.LastCheckedAt, 5*time.Second)
}

func TestReportOutcomeClassification(t *testing.T) {
	svc, db, _ := setupRouter(t)
	seedPool(t, db)
	ctx := context.Background()

	svc.ReportOutcome(ctx, "cred-a", models.NewRateLimitError("upstream rate limit"))
	assert.Equal(t, models.HealthStatusRateLimited, svc.MirroredStatus(ctx, "cred-a"))

	svc.ReportOutcome(ctx, "cred-b", errors.New("connection refused"))
	assert.Equal(t, models.HealthStatusUnhealthy, svc.MirroredStatus(ctx, "cred-b"))

	svc.ReportOutcome(ctx, "cred-a", nil)
	assert.Equal(t, models.HealthStatusHealthy, svc.MirroredStatus(ctx, "cred-a"))
}
