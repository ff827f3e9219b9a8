package api

import (
	"errors"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/apikey"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type APIKeyHandler struct {
	apiKeys *apikey.Service
}

func NewAPIKeyHandler(apiKeys *apikey.Service) *APIKeyHandler {
	return &APIKeyHandler{apiKeys: apiKeys}
}

// ListKeys returns keys, optionally filtered by owner via ?user_id=.
func (h *APIKeyHandler) ListKeys(c *fiber.Ctx) error {
	if ownerID := c.Query("user_id"); ownerID != "" {
		keys, err := h.apiKeys.ListByOwner(c.Context(), ownerID)
		if err != nil {
			fiberlog.Errorf("failed to list keys for %s: %v", ownerID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to list API keys",
			})
		}
		return c.JSON(fiber.Map{"keys": keys, "total": len(keys)})
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)
	keys, total, err := h.apiKeys.List(c.Context(), limit, offset)
	if err != nil {
		fiberlog.Errorf("failed to list keys: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list API keys",
		})
	}
	return c.JSON(fiber.Map{"keys": keys, "total": total})
}

func (h *APIKeyHandler) CreateKey(c *fiber.Ctx) error {
	var req models.APIKeyCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	key, err := h.apiKeys.Create(c.Context(), &req)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{"error": appErr.Message})
		}
		fiberlog.Errorf("failed to create key: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create API key",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(key)
}

func (h *APIKeyHandler) UpdateKey(c *fiber.Ctx) error {
	key := c.Params("key")
	if !models.IsWellFormedKey(key) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid API key format",
		})
	}

	var req models.APIKeyUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	updated, err := h.apiKeys.Update(c.Context(), key, &req)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{"error": appErr.Message})
		}
		fiberlog.Errorf("failed to update key %s: %v", key, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update API key",
		})
	}

	return c.JSON(updated)
}

func (h *APIKeyHandler) RevokeKey(c *fiber.Ctx) error {
	key := c.Params("key")
	if !models.IsWellFormedKey(key) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid API key format",
		})
	}

	if err := h.apiKeys.Revoke(c.Context(), key); err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{"error": appErr.Message})
		}
		fiberlog.Errorf("failed to revoke key %s: %v", key, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to revoke API key",
		})
	}

	return c.JSON(fiber.Map{"message": "API key revoked"})
}
