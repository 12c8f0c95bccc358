package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/search"
	"github.com/mohammad-safakhou/counsel/provider"
)

const maxSources = 10

// SearchStage retrieves sources for the facilitator's keywords. When a round
// comes back empty it asks the model for alternative keywords and tries
// again, up to MaxRounds.
type SearchStage struct {
	Config      config.StageConfig
	Provider    provider.Provider
	Coordinator *search.Coordinator
	MaxResults  int
	MaxRounds   int
	Logger      *log.Logger
}

func (s *SearchStage) Name() StageName { return StageSearch }

func (s *SearchStage) Execute(ctx context.Context, turn TurnInput, prior map[StageName]StageResult) (StageResult, error) {
	keywords := s.keywordsFor(turn, prior)
	limit := s.MaxResults
	if limit <= 0 {
		limit = maxSources
	}
	rounds := s.MaxRounds
	if rounds <= 0 {
		rounds = 1
	}

	var sources []search.Source
	var tokens int64
	round := 0
	for round < rounds {
		round++
		found, err := s.Coordinator.Search(ctx, keywords, limit)
		if err != nil {
			return StageResult{}, err
		}
		sources = found
		if len(sources) > 0 {
			break
		}
		if round >= rounds {
			break
		}
		refined, refineTokens, err := s.refineKeywords(ctx, turn, keywords)
		tokens += refineTokens
		if err != nil || len(refined) == 0 {
			break
		}
		keywords = refined
	}

	confidence := 0.9
	if len(sources) == 0 {
		confidence = 0.3
	} else if len(sources) < limit/2 {
		confidence = 0.6
	}
	return StageResult{
		Stage:      StageSearch,
		Success:    true,
		Confidence: confidence,
		Model:      s.Config.Model,
		TokensUsed: tokens,
		Search:     &SearchOutput{Sources: sources, Rounds: round},
	}, nil
}

func (s *SearchStage) keywordsFor(turn TurnInput, prior map[StageName]StageResult) []string {
	if fac := prior[StageFacilitator].Facilitator; fac != nil && len(fac.Keywords) > 0 {
		return fac.Keywords
	}
	if len(turn.Keywords) > 0 {
		return turn.Keywords
	}
	return []string{turn.UserMessage}
}

// refineKeywords asks the model for alternative search terms after an
// empty round.
func (s *SearchStage) refineKeywords(ctx context.Context, turn TurnInput, tried []string) ([]string, int64, error) {
	prompt := fmt.Sprintf("질문: %s\n이미 시도한 검색어: %s\n검색 결과가 없었습니다. 다른 검색어를 제안해 주세요.\n형식: 1. search keywords = {키워드1, 키워드2}",
		turn.UserMessage, strings.Join(tried, ", "))
	msgs := []provider.Message{
		{Role: "system", Content: s.Config.SystemPrompt},
		{Role: "user", Content: prompt},
	}
	raw, tokens, err := complete(ctx, s.Provider, s.Config, msgs)
	if err != nil {
		return nil, tokens, err
	}
	return capList(splitList(parseNumbered(raw)[1]), maxKeywords), tokens, nil
}
