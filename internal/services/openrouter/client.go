package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ctrl-labs/ctrl-gateway/internal/config"
	"github.com/ctrl-labs/ctrl-gateway/internal/models"
	"github.com/openai/openai-go/v2"
	openaiOption "github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// Completion is the subset of the upstream response the gateway forwards.
// TokensUsed is the provider-reported total, which supersedes the
// pre-admission estimate.
type Completion struct {
	ID         string
	Model      string
	Text       string
	TokensUsed int64
}

// Client talks to an OpenRouter-compatible API. One Client serves the whole
// pool; the credential secret is supplied per call.
type Client struct {
	baseURL        string
	requestTimeout time.Duration
	probeTimeout   time.Duration
	probeHTTP      *http.Client
}

func NewClient(cfg config.UpstreamConfig) *Client {
	return &Client{
		baseURL:        cfg.BaseURL,
		requestTimeout: cfg.RequestTimeout,
		probeTimeout:   cfg.ProbeTimeout,
		probeHTTP:      &http.Client{Timeout: cfg.ProbeTimeout},
	}
}

// ChatCompletion forwards one non-streaming completion under a bounded
// timeout. Timeout expiry aborts the in-flight call and surfaces as an
// upstream failure.
func (c *Client) ChatCompletion(ctx context.Context, secret, model, prompt string, opts *models.ChatOptions) (*Completion, error) {
	client := openai.NewClient(
		openaiOption.WithAPIKey(secret),
		openaiOption.WithBaseURL(c.baseURL),
	)

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if opts != nil {
		if opts.MaxTokens > 0 {
			params.MaxTokens = openai.Int(opts.MaxTokens)
		}
		if opts.Temperature != nil {
			params.Temperature = openai.Float(*opts.Temperature)
		}
		if opts.TopP != nil {
			params.TopP = openai.Float(*opts.TopP)
		}
		if len(opts.Stop) > 0 {
			params.Stop = openai.ChatCompletionNewParamsStopUnion{
				OfStringArray: opts.Stop,
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, models.NewUpstreamError("upstream returned no choices", nil)
	}

	return &Completion{
		ID:         resp.ID,
		Model:      resp.Model,
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// CheckKey probes the auth-check endpoint with the short probe timeout and
// returns the raw status code for the prober to classify.
func (c *Client) CheckKey(ctx context.Context, secret string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/key", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := c.probeHTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	return resp.StatusCode, nil
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return models.NewRateLimitError("upstream rate limited")
		}
		return models.NewUpstreamError(fmt.Sprintf("upstream returned status %d", apiErr.StatusCode), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &models.AppError{
			Type:       models.ErrorTypeTimeout,
			Message:    "upstream request timed out",
			Code:       models.ErrCodeUpstreamTimeout,
			StatusCode: http.StatusInternalServerError,
			Retryable:  true,
			Cause:      err,
		}
	}
	return models.NewUpstreamError("upstream request failed", err)
}
