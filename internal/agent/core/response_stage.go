package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/provider"
)

// ResponseStage drafts the answer from the analyst's findings and the
// retrieved sources. The prompt restricts references to the listed sources
// so no citation is fabricated here.
type ResponseStage struct {
	Config   config.StageConfig
	Provider provider.Provider
	Logger   *log.Logger
}

func (r *ResponseStage) Name() StageName { return StageResponse }

func (r *ResponseStage) Execute(ctx context.Context, turn TurnInput, prior map[StageName]StageResult) (StageResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "질문: %s\n", turn.UserMessage)
	if an := prior[StageAnalyst].Analyst; an != nil {
		if len(an.Issues) > 0 {
			fmt.Fprintf(&sb, "쟁점: %s\n", strings.Join(an.Issues, ", "))
		}
		fmt.Fprintf(&sb, "위험도: %s\n", an.RiskLevel)
		if an.Summary != "" {
			fmt.Fprintf(&sb, "분석 요약: %s\n", an.Summary)
		}
	}
	if sr := prior[StageSearch].Search; sr != nil && len(sr.Sources) > 0 {
		sb.WriteString("참고 가능한 자료 (이 목록에 없는 자료는 인용하지 마세요):\n")
		for i, src := range sr.Sources {
			fmt.Fprintf(&sb, "%d) %s: %s\n", i+1, src.Name, src.Excerpt)
		}
	} else {
		sb.WriteString("참고할 자료가 없습니다. 일반적인 법률 상식 수준에서만 답변하고 그 한계를 밝혀 주세요.\n")
	}

	msgs := buildMessages(r.Config.SystemPrompt, turn.History, sb.String())
	raw, tokens, err := complete(ctx, r.Provider, r.Config, msgs)
	if err != nil {
		return StageResult{}, err
	}
	draft := strings.TrimSpace(raw)
	if draft == "" {
		return StageResult{}, fmt.Errorf("empty draft from model")
	}

	return StageResult{
		Stage:      StageResponse,
		Success:    true,
		Confidence: 0.9,
		RawOutput:  raw,
		Model:      r.Config.Model,
		TokensUsed: tokens,
		Response:   &ResponseOutput{Draft: draft},
	}, nil
}
