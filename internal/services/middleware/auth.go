package middleware

import (
	"strings"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/account"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/auth"
	"github.com/gofiber/fiber/v2"
)

// AdminMiddleware guards the admin surface: a valid bearer identity whose
// role resolves to admin, either from the token claims or the account
// record.
type AdminMiddleware struct {
	providers []auth.Provider
	accounts  *account.Service
}

func NewAdminMiddleware(accounts *account.Service, providers ...auth.Provider) *AdminMiddleware {
	return &AdminMiddleware{providers: providers, accounts: accounts}
}

func (m *AdminMiddleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearer(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication required",
			})
		}

		var identity *auth.Identity
		for _, provider := range m.providers {
			if id, err := provider.ValidateToken(c.Context(), token); err == nil {
				identity = id
				break
			}
		}
		if identity == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication required",
			})
		}

		if identity.Role != models.RoleAdmin {
			isAdmin, err := m.accounts.IsAdmin(c.Context(), identity.UserID)
			if err != nil || !isAdmin {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"error": "admin access required",
				})
			}
		}

		auth.SetIdentity(c, identity)
		return c.Next()
	}
}

// CronMiddleware guards the health-check sweep with a shared secret, the
// way hosted cron services authenticate themselves.
type CronMiddleware struct {
	secret string
}

func NewCronMiddleware(secret string) *CronMiddleware {
	return &CronMiddleware{secret: secret}
}

func (m *CronMiddleware) RequireCronSecret() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := extractBearer(c); token == "" || token != m.secret {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication required",
			})
		}
		return c.Next()
	}
}

func extractBearer(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
