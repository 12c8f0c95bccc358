package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/counsel/provider"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

// client implements provider.Provider using OpenAI's chat completions API
type client struct {
	apiKey       string
	apiURL       string
	defaultModel string
	httpClient   *http.Client
}

// request represents a request to the OpenAI API
type request struct {
	Model            string             `json:"model"`
	Messages         []provider.Message `json:"messages"`
	Temperature      float64            `json:"temperature"`
	MaxTokens        int                `json:"max_tokens,omitempty"`
	TopP             float64            `json:"top_p,omitempty"`
	FrequencyPenalty float64            `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64            `json:"presence_penalty,omitempty"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient creates a new OpenAI chat client
func NewClient(apiKey, baseURL, defaultModel string, timeout time.Duration) provider.Provider {
	url := defaultAPIURL
	if baseURL != "" {
		url = baseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &client{
		apiKey:       apiKey,
		apiURL:       url,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (c *client) Complete(ctx context.Context, messages []provider.Message, opts provider.Options) (string, error) {
	text, _, _, err := c.CompleteWithUsage(ctx, messages, opts)
	return text, err
}

func (c *client) CompleteWithUsage(ctx context.Context, messages []provider.Message, opts provider.Options) (string, int64, int64, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}
	body := request{
		Model:            model,
		Messages:         messages,
		Temperature:      opts.Temperature,
		MaxTokens:        opts.MaxTokens,
		TopP:             opts.TopP,
		FrequencyPenalty: opts.FrequencyPenalty,
		PresencePenalty:  opts.PresencePenalty,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// network failures are retryable by policy
		return "", 0, 0, fmt.Errorf("failed to send request: %w: %w", provider.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", 0, 0, fmt.Errorf("API returned status %d: %w", resp.StatusCode, provider.ErrTransient)
		}
		return "", 0, 0, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", 0, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if openaiResp.Error != nil {
		return "", 0, 0, fmt.Errorf("API error: %s", openaiResp.Error.Message)
	}
	if len(openaiResp.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("no choices in response")
	}

	return openaiResp.Choices[0].Message.Content,
		openaiResp.Usage.PromptTokens,
		openaiResp.Usage.CompletionTokens,
		nil
}
