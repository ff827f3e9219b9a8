package api

import (
	"github.com/ctrl-labs/ctrl-gateway/internal/services/usage"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type AnalyticsHandler struct {
	usage *usage.Service
}

func NewAnalyticsHandler(usageService *usage.Service) *AnalyticsHandler {
	return &AnalyticsHandler{usage: usageService}
}

// GetAnalytics serves aggregate usage views over the append-only log.
// ?period=1h|24h|7d|30d|90d (default 24h), ?type=usage|users|errors.
func (h *AnalyticsHandler) GetAnalytics(c *fiber.Ctx) error {
	period, err := usage.ParsePeriod(c.Query("period", "24h"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	switch reportType := c.Query("type", "usage"); reportType {
	case "usage":
		stats, err := h.usage.Stats(c.Context(), period)
		if err != nil {
			fiberlog.Errorf("failed to compute usage stats: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to compute analytics",
			})
		}
		return c.JSON(stats)
	case "users":
		users, err := h.usage.TopUsers(c.Context(), period, c.QueryInt("limit", 20))
		if err != nil {
			fiberlog.Errorf("failed to compute user activity: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to compute analytics",
			})
		}
		return c.JSON(fiber.Map{"users": users})
	case "errors":
		breakdown, err := h.usage.ErrorBreakdown(c.Context(), period)
		if err != nil {
			fiberlog.Errorf("failed to compute error breakdown: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to compute analytics",
			})
		}
		return c.JSON(fiber.Map{"errors": breakdown})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown analytics type: " + reportType,
		})
	}
}
