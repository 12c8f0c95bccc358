package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/provider"
)

const maxFollowUps = 4

// Validator scores the composed answer and proposes follow-up questions.
// An invalid verdict downgrades confidence but never discards the draft.
type Validator struct {
	Config   config.StageConfig
	Provider provider.Provider
	Logger   *log.Logger
}

func (v *Validator) Name() StageName { return StageValidator }

func (v *Validator) Execute(ctx context.Context, turn TurnInput, prior map[StageName]StageResult) (StageResult, error) {
	draft := ""
	if resp := prior[StageResponse].Response; resp != nil {
		draft = resp.Draft
	}
	citations := 0
	if cit := prior[StageCitation].Citation; cit != nil {
		citations = len(cit.Citations)
	}

	prompt := fmt.Sprintf("질문: %s\n\n답변:\n%s\n\n인용된 자료 수: %d", turn.UserMessage, draft, citations)
	msgs := []provider.Message{
		{Role: "system", Content: v.Config.SystemPrompt},
		{Role: "user", Content: prompt},
	}
	raw, tokens, err := complete(ctx, v.Provider, v.Config, msgs)
	if err != nil {
		return StageResult{}, err
	}

	items := parseNumbered(raw)
	out := &ValidatorOutput{IsValid: true, QualityScore: 0.5}
	parsed := 0
	if val, ok := items[1]; ok && strings.TrimSpace(val) != "" {
		out.IsValid = parseYes(val)
		parsed++
	}
	if score, ok := parseFloat01(items[2]); ok {
		out.QualityScore = score
		parsed++
	}
	if followUps := splitList(items[3]); len(followUps) > 0 {
		out.FollowUps = capList(followUps, maxFollowUps)
		parsed++
	}

	return StageResult{
		Stage:      StageValidator,
		Success:    true,
		Confidence: parseConfidence(parsed, 2),
		RawOutput:  raw,
		Model:      v.Config.Model,
		TokensUsed: tokens,
		Validator:  out,
	}, nil
}
