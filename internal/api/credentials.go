package api

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/router"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// CredentialHandler manages the upstream credential pool. Secrets never
// touch the database or the wire: only env var names are stored.
type CredentialHandler struct {
	db     *gorm.DB
	router *router.Service
}

func NewCredentialHandler(db *gorm.DB, routerService *router.Service) *CredentialHandler {
	return &CredentialHandler{db: db, router: routerService}
}

// ListCredentials returns every credential together with its live mirrored
// status and in-flight load, so operators see what the router sees.
func (h *CredentialHandler) ListCredentials(c *fiber.Ctx) error {
	var creds []models.UpstreamCredential
	if err := h.db.WithContext(c.Context()).Order("created_at").Find(&creds).Error; err != nil {
		fiberlog.Errorf("failed to list credentials: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list credentials",
		})
	}

	out := make([]models.CredentialResponse, 0, len(creds))
	for _, cred := range creds {
		out = append(out, models.CredentialResponse{
			UpstreamCredential: cred,
			LiveStatus:         h.router.MirroredStatus(c.Context(), cred.ID),
			LiveLoad:           h.router.LiveLoad(c.Context(), cred.ID),
		})
	}
	return c.JSON(fiber.Map{"credentials": out, "total": len(out)})
}

func (h *CredentialHandler) CreateCredential(c *fiber.Ctx) error {
	var req models.CredentialCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	req.ID = strings.TrimSpace(req.ID)
	req.EnvName = strings.TrimSpace(req.EnvName)
	if req.ID == "" || req.EnvName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id and env_name are required",
		})
	}
	if os.Getenv(req.EnvName) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "env var " + req.EnvName + " is not set",
		})
	}

	cred := models.UpstreamCredential{
		ID:            req.ID,
		EnvRef:        req.EnvName,
		Notes:         req.Notes,
		HealthStatus:  models.HealthStatusHealthy,
		LastCheckedAt: time.Now().UTC(),
	}
	if err := h.db.WithContext(c.Context()).Create(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "credential id already exists",
			})
		}
		fiberlog.Errorf("failed to create credential %s: %v", req.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create credential",
		})
	}

	// Seed an explicit mirrored status so the router never has to guess
	// about a credential it has not seen probed yet.
	h.router.SetHealth(c.Context(), cred.ID, models.HealthStatusHealthy)

	return c.Status(fiber.StatusCreated).JSON(cred)
}

func (h *CredentialHandler) DeleteCredential(c *fiber.Ctx) error {
	id := c.Params("id")

	res := h.db.WithContext(c.Context()).Delete(&models.UpstreamCredential{}, "id = ?", id)
	if res.Error != nil {
		fiberlog.Errorf("failed to delete credential %s: %v", id, res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete credential",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "credential not found",
		})
	}
	return c.JSON(fiber.Map{"message": "credential deleted"})
}
