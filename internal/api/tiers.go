package api

import (
	"errors"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/tier"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type TierHandler struct {
	tiers *tier.Service
}

func NewTierHandler(tiers *tier.Service) *TierHandler {
	return &TierHandler{tiers: tiers}
}

func (h *TierHandler) ListTiers(c *fiber.Ctx) error {
	tiers, err := h.tiers.List(c.Context())
	if err != nil {
		fiberlog.Errorf("failed to list tiers: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list tiers",
		})
	}
	return c.JSON(fiber.Map{"tiers": tiers, "total": len(tiers)})
}

// UpsertTier creates or replaces a tier. The Redis cache entry is left to
// expire on its own TTL, so changes take up to an hour to reach admission.
func (h *TierHandler) UpsertTier(c *fiber.Ctx) error {
	var req models.TierUpsertRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	cfg, err := h.tiers.Upsert(c.Context(), &req)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{"error": appErr.Message})
		}
		fiberlog.Errorf("failed to upsert tier %s: %v", req.Name, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to save tier",
		})
	}
	return c.JSON(cfg)
}

func (h *TierHandler) DeleteTier(c *fiber.Ctx) error {
	name := c.Params("name")

	if err := h.tiers.Delete(c.Context(), name); err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{"error": appErr.Message})
		}
		fiberlog.Errorf("failed to delete tier %s: %v", name, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete tier",
		})
	}
	return c.JSON(fiber.Map{"message": "tier deleted"})
}
