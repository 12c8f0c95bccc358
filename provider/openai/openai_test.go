package openai_provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/counsel/provider"
)

func TestCompleteParsesChoiceAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["model"] != "gpt-4" {
			t.Fatalf("model = %v", req["model"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "1. intent = {law_search}"}},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 7},
		})
	}))
	defer srv.Close()

	p := NewClient("test-key", srv.URL, "gpt-4", 5*time.Second)
	out, in, gen, err := p.CompleteWithUsage(context.Background(),
		[]provider.Message{{Role: "user", Content: "질문"}}, provider.Options{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "1. intent = {law_search}" {
		t.Fatalf("content = %q", out)
	}
	if in != 12 || gen != 7 {
		t.Fatalf("usage = %d/%d", in, gen)
	}
}

func TestRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewClient("test-key", srv.URL, "gpt-4", 5*time.Second)
	_, err := p.Complete(context.Background(), []provider.Message{{Role: "user", Content: "질문"}}, provider.Options{})
	if !errors.Is(err, provider.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestBadRequestIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "invalid request"}})
	}))
	defer srv.Close()

	p := NewClient("test-key", srv.URL, "gpt-4", 5*time.Second)
	_, err := p.Complete(context.Background(), []provider.Message{{Role: "user", Content: "질문"}}, provider.Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, provider.ErrTransient) {
		t.Fatalf("4xx should not be transient: %v", err)
	}
}
