package models

import "time"

type ChatOptions struct {
	Model       string   `json:"model,omitempty"`
	MaxTokens   int64    `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ChatRequest struct {
	APIKey  string       `json:"api_key"`
	Prompt  string       `json:"prompt"`
	Options *ChatOptions `json:"options,omitempty"`
}

type ChatResponse struct {
	ID         string    `json:"id"`
	Response   string    `json:"response"`
	Model      string    `json:"model"`
	TokensUsed int64     `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// RateLimitResult carries the machine-readable limit metadata surfaced in
// X-RateLimit-* headers.
type RateLimitResult struct {
	Limited   bool      `json:"limited"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}
