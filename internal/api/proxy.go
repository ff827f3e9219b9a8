package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/config"
	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/admission"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/apikey"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/openrouter"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/router"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/tier"
	"github.com/ctrl-labs/ctrl-gateway/internal/services/usage"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

const proxyEndpoint = "/v1/ai"

// ProxyHandler runs the admission pipeline for one AI request:
// validate -> rate check -> quota check -> route -> forward -> record.
type ProxyHandler struct {
	cfg       *config.Config
	apiKeys   *apikey.Service
	tiers     *tier.Service
	admission *admission.Service
	router    *router.Service
	upstream  *openrouter.Client
	usage     *usage.Service
}

func NewProxyHandler(
	cfg *config.Config,
	apiKeys *apikey.Service,
	tiers *tier.Service,
	admissionService *admission.Service,
	routerService *router.Service,
	upstream *openrouter.Client,
	usageService *usage.Service,
) *ProxyHandler {
	return &ProxyHandler{
		cfg:       cfg,
		apiKeys:   apiKeys,
		tiers:     tiers,
		admission: admissionService,
		router:    routerService,
		upstream:  upstream,
		usage:     usageService,
	}
}

func (h *ProxyHandler) HandleChat(c *fiber.Ctx) error {
	requestID := uuid.NewString()

	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "prompt is required",
		})
	}
	if !models.IsWellFormedKey(req.APIKey) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid API key format",
		})
	}
	if req.Options != nil && req.Options.Stream {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "streaming is not supported",
		})
	}

	key, err := h.apiKeys.Lookup(c.Context(), req.APIKey)
	if err != nil {
		if errors.Is(err, apikey.ErrKeyNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or inactive API key",
			})
		}
		// Key lookup fails closed: authorization is never guessed.
		fiberlog.Errorf("[%s] key lookup failed: %v", requestID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	rl := h.admission.CheckRateLimit(c.Context(), key)
	setRateLimitHeaders(c, rl)
	if rl.Limited {
		h.recordFailure(c, key, models.ErrCodeRateLimited)
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":    "rate limit exceeded",
			"limit":    rl.Limit,
			"reset_at": rl.ResetAt.UTC().Format(time.RFC3339),
		})
	}

	var maxTokens int64
	if req.Options != nil {
		maxTokens = req.Options.MaxTokens
	}
	estimate := admission.EstimateTokens(req.Prompt, maxTokens)
	if h.admission.CheckTokenQuota(c.Context(), key, estimate) {
		h.recordFailure(c, key, models.ErrCodeQuotaExceeded)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "monthly token quota exceeded",
		})
	}

	selection, err := h.router.Select(c.Context(), h.cfg.Upstream.RoutingPolicy)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Code == models.ErrCodeNoHealthyUpstream {
			h.recordFailure(c, key, models.ErrCodeNoHealthyUpstream)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "no healthy upstream available",
			})
		}
		fiberlog.Errorf("[%s] credential selection failed: %v", requestID, err)
		h.recordFailure(c, key, models.ErrCodeInternal)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	model := h.resolveModel(c, key, req.Options)

	h.router.Acquire(c.Context(), selection.ID)
	completion, err := h.upstream.ChatCompletion(c.Context(), selection.Secret, model, req.Prompt, req.Options)
	h.router.Release(c.Context(), selection.ID)
	h.router.ReportOutcome(c.Context(), selection.ID, err)

	if err != nil {
		fiberlog.Errorf("[%s] upstream call via %s failed: %v", requestID, selection.ID, err)
		h.recordFailure(c, key, upstreamErrorCode(err))
		// The upstream's own error detail stays in the logs.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "upstream request failed",
		})
	}

	if err := h.usage.RecordSuccess(c.Context(), key, models.RecordSuccessParams{
		APIKey:         key.Key,
		OwnerID:        key.OwnerID,
		Endpoint:       proxyEndpoint,
		TokensUsed:     completion.TokensUsed,
		CredentialUsed: selection.ID,
	}); err != nil {
		// The request was served; a recording failure is an operator
		// problem, not a caller one.
		fiberlog.Errorf("[%s] failed to record usage: %v", requestID, err)
	}

	id := completion.ID
	if id == "" {
		id = requestID
	}

	return c.JSON(models.ChatResponse{
		ID:         id,
		Response:   completion.Text,
		Model:      completion.Model,
		TokensUsed: completion.TokensUsed,
		CreatedAt:  time.Now().UTC(),
	})
}

func (h *ProxyHandler) resolveModel(c *fiber.Ctx, key *models.APIKey, opts *models.ChatOptions) string {
	if opts != nil && opts.Model != "" {
		return opts.Model
	}
	if tierCfg, err := h.tiers.Get(c.Context(), key.Tier); err == nil && tierCfg.DefaultModel != "" {
		return tierCfg.DefaultModel
	}
	return h.cfg.Upstream.DefaultModel
}

// recordFailure appends the attempt's log entry. It is deliberately
// swallowing: a logging failure must never mask or replace the response the
// caller is owed.
func (h *ProxyHandler) recordFailure(c *fiber.Ctx, key *models.APIKey, errorCode string) {
	if err := h.usage.RecordFailure(c.Context(), models.RecordFailureParams{
		APIKey:    key.Key,
		OwnerID:   key.OwnerID,
		Endpoint:  proxyEndpoint,
		ErrorCode: errorCode,
	}); err != nil {
		fiberlog.Errorf("failed to record failed attempt for %s: %v", key.Key, err)
	}
}

func setRateLimitHeaders(c *fiber.Ctx, rl models.RateLimitResult) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
}

func upstreamErrorCode(err error) string {
	var appErr *models.AppError
	if errors.As(err, &appErr) && appErr.Code == models.ErrCodeUpstreamTimeout {
		return models.ErrCodeUpstreamTimeout
	}
	return models.ErrCodeUpstreamError
}
