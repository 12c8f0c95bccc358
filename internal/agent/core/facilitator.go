package core

import (
	"context"
	"log"
	"strings"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/provider"
)

const maxKeywords = 10

var validIntents = map[string]bool{
	IntentLawSearch:           true,
	IntentPrecedentSearch:     true,
	IntentLegalInterpretation: true,
	IntentProceduralGuidance:  true,
	IntentComparativeAnalysis: true,
	IntentGeneralInquiry:      true,
}

// Facilitator classifies the user's intent, extracts search keywords and
// decides whether the question is specific enough to answer.
type Facilitator struct {
	Config   config.StageConfig
	Provider provider.Provider
	Logger   *log.Logger
}

func (f *Facilitator) Name() StageName { return StageFacilitator }

func (f *Facilitator) Execute(ctx context.Context, turn TurnInput, prior map[StageName]StageResult) (StageResult, error) {
	msgs := buildMessages(f.Config.SystemPrompt, turn.History, turn.UserMessage)
	raw, tokens, err := complete(ctx, f.Provider, f.Config, msgs)
	if err != nil {
		return StageResult{}, err
	}

	items := parseNumbered(raw)
	out := &FacilitatorOutput{Intent: IntentGeneralInquiry}

	parsed := 0
	if intent := strings.ToLower(strings.TrimSpace(items[1])); validIntents[intent] {
		out.Intent = intent
		parsed++
	}
	if kws := splitList(items[2]); len(kws) > 0 {
		out.Keywords = capList(kws, maxKeywords)
		parsed++
	}
	if q := strings.TrimSpace(items[3]); q != "" {
		out.NeedsClarification = true
		out.ClarificationQuestion = q
	}

	return StageResult{
		Stage:       StageFacilitator,
		Success:     true,
		Confidence:  parseConfidence(parsed, 2),
		RawOutput:   raw,
		Model:       f.Config.Model,
		TokensUsed:  tokens,
		Facilitator: out,
	}, nil
}

// buildMessages prepends the stage's system prompt to the history and the
// new user message.
func buildMessages(systemPrompt string, history []provider.Message, userMessage string) []provider.Message {
	msgs := make([]provider.Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, provider.Message{Role: "user", Content: userMessage})
	return msgs
}
