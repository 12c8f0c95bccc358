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

// Analyst identifies the legal issues in play and an overall risk level,
// given the facilitator's intent and the retrieved sources.
type Analyst struct {
	Config   config.StageConfig
	Provider provider.Provider
	Logger   *log.Logger
}

func (a *Analyst) Name() StageName { return StageAnalyst }

func (a *Analyst) Execute(ctx context.Context, turn TurnInput, prior map[StageName]StageResult) (StageResult, error) {
	intent := IntentGeneralInquiry
	if fac := prior[StageFacilitator].Facilitator; fac != nil {
		intent = fac.Intent
	}
	var sources []search.Source
	if sr := prior[StageSearch].Search; sr != nil {
		sources = sr.Sources
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "질문 유형: %s\n질문: %s\n", intent, turn.UserMessage)
	if len(sources) > 0 {
		sb.WriteString("검색된 자료:\n")
		for i, src := range sources {
			fmt.Fprintf(&sb, "%d) %s: %s\n", i+1, src.Name, src.Excerpt)
		}
	} else {
		sb.WriteString("검색된 자료가 없습니다.\n")
	}

	msgs := []provider.Message{
		{Role: "system", Content: a.Config.SystemPrompt},
		{Role: "user", Content: sb.String()},
	}
	raw, tokens, err := complete(ctx, a.Provider, a.Config, msgs)
	if err != nil {
		return StageResult{}, err
	}

	items := parseNumbered(raw)
	out := &AnalystOutput{RiskLevel: "medium"}
	parsed := 0
	if issues := splitList(items[1]); len(issues) > 0 {
		out.Issues = issues
		parsed++
	}
	if risk := normalizeRisk(items[2]); risk != "" {
		out.RiskLevel = risk
		parsed++
	}
	if summary := strings.TrimSpace(items[3]); summary != "" {
		out.Summary = summary
		parsed++
	}

	return StageResult{
		Stage:      StageAnalyst,
		Success:    true,
		Confidence: parseConfidence(parsed, 3),
		RawOutput:  raw,
		Model:      a.Config.Model,
		TokensUsed: tokens,
		Analyst:    out,
	}, nil
}

func normalizeRisk(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "낮음":
		return "low"
	case "medium", "중간":
		return "medium"
	case "high", "높음":
		return "high"
	}
	return ""
}
