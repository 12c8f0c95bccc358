package core

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/search"
	"github.com/mohammad-safakhou/counsel/provider"
	openai_provider "github.com/mohammad-safakhou/counsel/provider/openai"
)

// NewLLMProvider builds the configured completion provider.
func NewLLMProvider(cfg config.LLMConfig) (provider.Provider, error) {
	switch provider.Client(cfg.Provider) {
	case provider.OpenAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm api key is required")
		}
		return openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// NewStages wires the six pipeline stages from configuration. The search
// coordinator is shared; everything else is injected per stage so admin
// config changes take effect on the next construction.
func NewStages(cfg *config.Config, prov provider.Provider, coordinator *search.Coordinator, logger *log.Logger) []Stage {
	return []Stage{
		&Facilitator{Config: cfg.Stages.Facilitator, Provider: prov, Logger: logger},
		&SearchStage{
			Config:      cfg.Stages.Search,
			Provider:    prov,
			Coordinator: coordinator,
			MaxResults:  cfg.Search.MaxResults,
			MaxRounds:   cfg.Search.MaxRounds,
			Logger:      logger,
		},
		&Analyst{Config: cfg.Stages.Analyst, Provider: prov, Logger: logger},
		&ResponseStage{Config: cfg.Stages.Response, Provider: prov, Logger: logger},
		&CitationStage{Config: cfg.Stages.Citation, Provider: prov, Logger: logger},
		&Validator{Config: cfg.Stages.Validator, Provider: prov, Logger: logger},
	}
}

// complete runs one model call for a stage and reports the total tokens it
// consumed, so cost tracking sees every call including retries.
func complete(ctx context.Context, p provider.Provider, cfg config.StageConfig, msgs []provider.Message) (string, int64, error) {
	raw, promptTokens, completionTokens, err := p.CompleteWithUsage(ctx, msgs, optionsFrom(cfg))
	return raw, promptTokens + completionTokens, err
}

func optionsFrom(cfg config.StageConfig) provider.Options {
	return provider.Options{
		Model:            cfg.Model,
		Temperature:      cfg.Temperature,
		MaxTokens:        cfg.MaxTokens,
		TopP:             cfg.TopP,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
	}
}
