package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/account"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/auth"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const tokenSecret = "test-service-secret"

func setupAdminApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Account{}))

	require.NoError(t, db.Create(&models.Account{ID: "admin_1", Role: models.RoleAdmin}).Error)
	require.NoError(t, db.Create(&models.Account{ID: "member_1", Role: models.RoleMember}).Error)

	accounts := account.NewService(db)
	adminAuth := NewAdminMiddleware(accounts, auth.NewServiceTokenProvider(tokenSecret))

	app := fiber.New()
	app.Get("/admin/ping", adminAuth.RequireAdmin(), func(c *fiber.Ctx) error {
		identity, _ := auth.GetIdentity(c)
		return c.JSON(fiber.Map{"user_id": identity.UserID})
	})
	return app, db
}

func mintToken(t *testing.T, secret, sub, role string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func getWithToken(t *testing.T, app *fiber.App, token string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestRequireAdminMissingToken(t *testing.T) {
	app, _ := setupAdminApp(t)
	resp := getWithToken(t, app, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAdminBadSignature(t *testing.T) {
	app, _ := setupAdminApp(t)
	resp := getWithToken(t, app, mintToken(t, "wrong-secret", "admin_1", models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAdminRoleClaim(t *testing.T) {
	app, _ := setupAdminApp(t)
	resp := getWithToken(t, app, mintToken(t, tokenSecret, "svc_deploy", models.RoleAdmin))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// A token without a role claim falls back to the account record.
func TestRequireAdminAccountRoleFallback(t *testing.T) {
	app, _ := setupAdminApp(t)

	resp := getWithToken(t, app, mintToken(t, tokenSecret, "admin_1", ""))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getWithToken(t, app, mintToken(t, tokenSecret, "member_1", ""))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRequireCronSecret(t *testing.T) {
	cron := NewCronMiddleware("cron-secret")
	app := fiber.New()
	app.Get("/cron", cron.RequireCronSecret(), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/cron", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/cron", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/cron", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
