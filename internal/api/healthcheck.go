package api

import (
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/services/prober"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type HealthCheckHandler struct {
	prober *prober.Service
}

func NewHealthCheckHandler(proberService *prober.Service) *HealthCheckHandler {
	return &HealthCheckHandler{prober: proberService}
}

// RunHealthCheck sweeps the credential pool once. Wired to the external
// cron; the in-process scheduler calls the prober directly.
func (h *HealthCheckHandler) RunHealthCheck(c *fiber.Ctx) error {
	results, err := h.prober.Sweep(c.Context())
	if err != nil {
		fiberlog.Errorf("health check sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "health check sweep failed",
		})
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"results":   results,
	})
}
