package api

import (
	"github.com/ctrl-labs/ctrl-gateway/internal/services/billing"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type BillingHandler struct {
	billing *billing.Service
}

func NewBillingHandler(billingService *billing.Service) *BillingHandler {
	return &BillingHandler{billing: billingService}
}

type settleRequest struct {
	OwnerID    string `json:"owner_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// CreateSettlement opens a Stripe checkout session for an account's
// outstanding pay-as-you-go balance.
func (h *BillingHandler) CreateSettlement(c *fiber.Ctx) error {
	var req settleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.OwnerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "owner_id is required",
		})
	}

	sess, err := h.billing.CreateSettlementSession(c.Context(), req.OwnerID, req.SuccessURL, req.CancelURL)
	if err != nil {
		fiberlog.Errorf("failed to create settlement session for %s: %v", req.OwnerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create settlement session",
		})
	}

	return c.JSON(fiber.Map{
		"session_id":   sess.ID,
		"checkout_url": sess.URL,
	})
}

// HandleStripeWebhook verifies the Stripe signature and settles the balance
// for completed checkout sessions.
func (h *BillingHandler) HandleStripeWebhook(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing Stripe-Signature header",
		})
	}

	if err := h.billing.HandleWebhookEvent(c.Context(), c.Body(), signature); err != nil {
		fiberlog.Errorf("stripe webhook rejected: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "webhook verification failed",
		})
	}

	return c.JSON(fiber.Map{"received": true})
}
