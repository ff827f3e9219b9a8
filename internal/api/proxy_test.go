package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ctrl-labs/ctrl-gateway/internal/config"
	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/admission"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/apikey"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/billing"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/openrouter"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/router"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/tier"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/usage"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testKey = "ctrl-pipeline1234pipe"

type proxyFixture struct {
	app *fiber.App
	db  *gorm.DB
	mr  *miniredis.Miniredis
}

// fakeCompletionUpstream speaks just enough of the OpenAI-compatible wire
// format to satisfy the SDK.
func fakeCompletionUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "gen-123",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "openai/gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": "Hello!"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     5,
				"completion_tokens": 3,
				"total_tokens":      8,
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupProxy(t *testing.T) *proxyFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Account{}, &models.APIKey{}, &models.TierConfig{},
		&models.UpstreamCredential{}, &models.UsageLogEntry{},
	))

	require.NoError(t, db.Create(&models.Account{ID: "user_1", Role: models.RoleMember}).Error)
	require.NoError(t, db.Create(&models.TierConfig{
		Name:               models.TierFree,
		RateLimitPerMinute: 3,
		MonthlyQuota:       100000,
		DefaultModel:       "openai/gpt-4o-mini",
	}).Error)
	require.NoError(t, db.Create(&models.APIKey{
		Key:          testKey,
		Tier:         models.TierFree,
		Status:       models.KeyStatusActive,
		OwnerID:      "user_1",
		MonthlyQuota: 100000,
	}).Error)

	t.Setenv("PROXY_TEST_SECRET", "upstream-secret")
	require.NoError(t, db.Create(&models.UpstreamCredential{
		ID:            "cred-a",
		EnvRef:        "PROXY_TEST_SECRET",
		HealthStatus:  models.HealthStatusHealthy,
		LastCheckedAt: time.Now(),
	}).Error)

	upstream := fakeCompletionUpstream(t)
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:        upstream.URL,
			RoutingPolicy:  models.RoutingPolicyRoundRobin,
			RequestTimeout: 5 * time.Second,
			ProbeTimeout:   time.Second,
			HealthCooldown: 5 * time.Minute,
			DefaultModel:   "openai/gpt-4o-mini",
		},
	}

	tiers := tier.NewService(db, redisClient)
	billingService := billing.NewService(db, config.BillingConfig{})
	handler := NewProxyHandler(
		cfg,
		apikey.NewService(db),
		tiers,
		admission.NewService(redisClient, tiers),
		router.NewService(db, redisClient, cfg.Upstream.HealthCooldown),
		openrouter.NewClient(cfg.Upstream),
		usage.NewService(db, redisClient, tiers, billingService),
	)

	app := fiber.New()
	app.Post("/v1/ai", handler.HandleChat)

	return &proxyFixture{app: app, db: db, mr: mr}
}

func (f *proxyFixture) post(t *testing.T, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/ai", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func logEntries(t *testing.T, db *gorm.DB) []models.UsageLogEntry {
	t.Helper()
	var entries []models.UsageLogEntry
	require.NoError(t, db.Order("timestamp").Find(&entries).Error)
	return entries
}

func TestChatSuccess(t *testing.T) {
	f := setupProxy(t)

	resp := f.post(t, models.ChatRequest{APIKey: testKey, Prompt: "Say hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))

	body := decodeBody(t, resp)
	assert.Equal(t, "Hello!", body["response"])
	assert.Equal(t, float64(8), body["tokens_used"])

	entries := logEntries(t, f.db)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "cred-a", entries[0].UpstreamCredentialUsed)

	var key models.APIKey
	require.NoError(t, f.db.First(&key, "key = ?", testKey).Error)
	assert.Equal(t, int64(8), key.UsageThisMonth)
}

func TestChatRejectsBadRequests(t *testing.T) {
	f := setupProxy(t)

	resp := f.post(t, models.ChatRequest{APIKey: testKey})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, models.ChatRequest{APIKey: "sk-wrongformat", Prompt: "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, models.ChatRequest{
		APIKey:  testKey,
		Prompt:  "hi",
		Options: &models.ChatOptions{Stream: true},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Nothing reached the usage log.
	assert.Empty(t, logEntries(t, f.db))
}

func TestChatUnknownKey(t *testing.T) {
	f := setupProxy(t)

	resp := f.post(t, models.ChatRequest{APIKey: "ctrl-unknownkey123456", Prompt: "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, logEntries(t, f.db))
}

func TestChatRevokedKey(t *testing.T) {
	f := setupProxy(t)
	require.NoError(t, f.db.Model(&models.APIKey{}).
		Where("key = ?", testKey).
		Update("status", models.KeyStatusRevoked).Error)

	resp := f.post(t, models.ChatRequest{APIKey: testKey, Prompt: "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatRateLimited(t *testing.T) {
	f := setupProxy(t)

	for i := 0; i < 3; i++ {
		resp := f.post(t, models.ChatRequest{APIKey: testKey, Prompt: "hi"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := f.post(t, models.ChatRequest{APIKey: testKey, Prompt: "hi"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	entries := logEntries(t, f.db)
	require.Len(t, entries, 4)

	var failed []models.UsageLogEntry
	for _, e := range entries {
		if !e.Success {
			failed = append(failed, e)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, models.ErrCodeRateLimited, failed[0].ErrorCode)
}

func TestChatQuotaExceeded(t *testing.T) {
	f := setupProxy(t)
	require.NoError(t, f.db.Model(&models.APIKey{}).
		Where("key = ?", testKey).
		Updates(map[string]any{"monthly_quota": 100, "usage_this_month": 90}).Error)

	resp := f.post(t, models.ChatRequest{APIKey: testKey, Prompt: "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	entries := logEntries(t, f.db)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ErrCodeQuotaExceeded, entries[0].ErrorCode)
}

func TestChatNoHealthyUpstream(t *testing.T) {
	f := setupProxy(t)
	require.NoError(t, f.mr.Set("upstream:health:cred-a", models.HealthStatusUnhealthy))

	resp := f.post(t, models.ChatRequest{APIKey: testKey, Prompt: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	entries := logEntries(t, f.db)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ErrCodeNoHealthyUpstream, entries[0].ErrorCode)
}
