package provider

import (
	"context"
	"errors"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// Message is one role-tagged chat message sent to the model.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Options carries per-call sampling parameters. Stages inject these from
// their admin-editable configuration; the provider never hard-codes them.
type Options struct {
	Model            string
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// Provider is the interface the pipeline stages speak to an LLM through.
type Provider interface {
	// Complete sends a chat conversation and returns the assistant text.
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)

	// CompleteWithUsage additionally reports prompt/completion token usage.
	CompleteWithUsage(ctx context.Context, messages []Message, opts Options) (string, int64, int64, error)
}

// ErrTransient marks provider failures worth retrying (network, 429, 5xx).
// Retry policies key off errors.Is against this sentinel.
var ErrTransient = errors.New("transient provider error")
