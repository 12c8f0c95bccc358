package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ExternalBackend queries a serper.dev style web search API. It is only
// registered when an API key is configured.
type ExternalBackend struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewExternalBackend(apiKey, baseURL string, timeout time.Duration) *ExternalBackend {
	if baseURL == "" {
		baseURL = "https://google.serper.dev/search"
	}
	return &ExternalBackend{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (b *ExternalBackend) Name() string { return "web" }

func (b *ExternalBackend) Search(ctx context.Context, keywords []string, limit int) ([]Source, error) {
	q := strings.TrimSpace(strings.Join(keywords, " "))
	if q == "" || limit <= 0 {
		return nil, nil
	}
	payload, _ := json.Marshal(map[string]any{"q": q, "num": limit})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", b.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []Source
	for i, item := range raw.Organic {
		if i >= limit {
			break
		}
		out = append(out, Source{
			Name:      item.Title,
			Excerpt:   item.Snippet,
			Link:      item.Link,
			Type:      SourceWeb,
			Relevance: rankRelevance(i, min(len(raw.Organic), limit)),
		})
	}
	return out, nil
}
