package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ctrl-labs/ctrl-gateway/internal/config"
	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service accrues pay-as-you-go charges onto the owner's owed balance and
// settles it through Stripe checkout.
type Service struct {
	db            *gorm.DB
	webhookSecret string
	enabled       bool
}

func NewService(db *gorm.DB, cfg config.BillingConfig) *Service {
	if cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &Service{
		db:            db,
		webhookSecret: cfg.StripeWebhookSecret,
		enabled:       cfg.StripeSecretKey != "",
	}
}

// AccrueCharge adds amount to the owner's owed balance under a row lock.
func (s *Service) AccrueCharge(ctx context.Context, ownerID string, amount float64) error {
	if amount <= 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&account, "id = ?", ownerID).Error; err != nil {
			return fmt.Errorf("failed to lock account %s: %w", ownerID, err)
		}

		account.OwedBalance += amount
		if err := tx.Model(&models.Account{}).
			Where("id = ?", ownerID).
			Update("owed_balance", account.OwedBalance).Error; err != nil {
			return fmt.Errorf("failed to accrue charge: %w", err)
		}
		return nil
	})
}

// CreateSettlementSession opens a Stripe checkout for the account's
// outstanding balance.
func (s *Service) CreateSettlementSession(ctx context.Context, ownerID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	if !s.enabled {
		return nil, models.NewValidationError("billing is not configured", nil)
	}

	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, "id = ?", ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("account not found")
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	cents := int64(account.OwedBalance * 100)
	if cents <= 0 {
		return nil, models.NewValidationError("no outstanding balance to settle", nil)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("usd"),
					UnitAmount: stripe.Int64(cents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Ctrl API usage settlement"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Metadata: map[string]string{
			"owner_id":       ownerID,
			"settled_amount": strconv.FormatFloat(account.OwedBalance, 'f', 6, 64),
		},
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess, nil
}

// HandleWebhookEvent verifies the Stripe signature and, on a completed
// settlement checkout, clears the settled amount from the owed balance.
func (s *Service) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return models.NewAuthenticationError("invalid webhook signature")
	}

	if event.Type != "checkout.session.completed" {
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	ownerID := sess.Metadata["owner_id"]
	settled, err := strconv.ParseFloat(sess.Metadata["settled_amount"], 64)
	if ownerID == "" || err != nil {
		fiberlog.Warnf("billing: checkout %s missing settlement metadata", sess.ID)
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&account, "id = ?", ownerID).Error; err != nil {
			return fmt.Errorf("failed to lock account %s: %w", ownerID, err)
		}

		balance := account.OwedBalance - settled
		if balance < 0 {
			balance = 0
		}
		return tx.Model(&models.Account{}).
			Where("id = ?", ownerID).
			Update("owed_balance", balance).Error
	})
}
