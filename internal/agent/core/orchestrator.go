package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/telemetry"
)

const contentChunkRunes = 400

// Orchestrator drives the fixed stage sequence for one turn, applying the
// timeout, retry and fallback policy and streaming events as it goes. All
// conversation mutation happens outside, by the caller committing the turn.
type Orchestrator struct {
	stages         []Stage
	retry          RetryPolicy
	stageTimeout   time.Duration
	degradedAnswer string
	telemetry      *telemetry.Telemetry
	logger         *log.Logger
}

func NewOrchestrator(cfg config.PipelineConfig, stages []Stage, tel *telemetry.Telemetry, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		stages:         stages,
		retry:          RetryPolicy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay},
		stageTimeout:   cfg.StageTimeout,
		degradedAnswer: cfg.DegradedAnswer,
		telemetry:      tel,
		logger:         logger,
	}
}

// criticalStages abort the turn on failure; every other stage degrades and
// the pipeline keeps going.
var criticalStages = map[StageName]bool{
	StageFacilitator: true,
	StageResponse:    true,
}

// RunTurn executes the pipeline for one user turn. It always hands the
// caller a terminal complete event unless the transport itself failed, in
// which case the returned error reflects the cancellation.
func (o *Orchestrator) RunTurn(ctx context.Context, turn TurnInput, sink EventSink) (*FinalAnswer, error) {
	start := time.Now()
	var trail []AgentEvent
	emit := func(ev AgentEvent) error {
		ev.Timestamp = time.Now()
		trail = append(trail, ev)
		return sink.Emit(ctx, ev)
	}

	prior := make(map[StageName]StageResult, len(o.stages))
	degraded := 0
	var stagesRun []string
	var tokensUsed int64

	for _, stage := range o.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := stage.Name()
		if err := emit(AgentEvent{Type: EventStageStarted, Agent: name}); err != nil {
			return nil, err
		}

		stageStart := time.Now()
		res, retries, err := o.runStage(ctx, stage, turn, prior)
		stagesRun = append(stagesRun, string(name))
		tokensUsed += res.TokensUsed
		o.telemetry.RecordStage(telemetry.StageEvent{
			Stage:      string(name),
			Success:    err == nil,
			Retries:    retries,
			Duration:   time.Since(stageStart),
			Model:      res.Model,
			TokensUsed: res.TokensUsed,
			Confidence: res.Confidence,
		})

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.logger.Printf("stage %s failed after %d retries: %v", name, retries, err)
			stageErr := StageError{Kind: classify(err), Message: err.Error()}
			if emitErr := emit(AgentEvent{
				Type:    EventError,
				Agent:   name,
				Payload: map[string]any{"error": stageErr.Message, "kind": string(stageErr.Kind)},
			}); emitErr != nil {
				return nil, emitErr
			}
			if criticalStages[name] {
				return o.finishDegraded(turn, prior, trail, start, tokensUsed, emit)
			}
			prior[name] = fallbackResult(name, stageErr)
			degraded++
			continue
		}

		prior[name] = res
		if err := emit(AgentEvent{
			Type:    EventAgentStep,
			Agent:   name,
			Payload: map[string]any{"result": res},
		}); err != nil {
			return nil, err
		}

		if name == StageFacilitator && res.Facilitator != nil && res.Facilitator.NeedsClarification {
			return o.finishClarification(res, turn, trail, start, tokensUsed, emit)
		}
		if name == StageResponse && res.Response != nil {
			if err := o.streamDraft(res.Response.Draft, emit); err != nil {
				return nil, err
			}
		}
	}

	fa := o.assemble(turn, prior, degraded, start)
	fa.Trail = trail
	fa.StageOutputs = prior
	if err := emit(AgentEvent{Type: EventComplete, Payload: map[string]any{"final_response": fa}}); err != nil {
		return nil, err
	}
	o.telemetry.RecordTurn(telemetry.TurnEvent{
		ConversationID: turn.ConversationID,
		Success:        true,
		Duration:       time.Since(start),
		TokensUsed:     tokensUsed,
		StagesRun:      stagesRun,
	})
	return fa, nil
}

// runStage applies the per-stage timeout inside the retry loop, so each
// attempt starts with a fresh deadline.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, turn TurnInput, prior map[StageName]StageResult) (StageResult, int, error) {
	var res StageResult
	retries, err := o.retry.Run(ctx, func(ctx context.Context) error {
		sctx := ctx
		if o.stageTimeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, o.stageTimeout)
			defer cancel()
		}
		r, err := stage.Execute(sctx, turn, prior)
		if err != nil {
			if sctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("stage %s: %w", stage.Name(), context.DeadlineExceeded)
			}
			return err
		}
		res = r
		return nil
	})
	return res, retries, err
}

// fallbackResult is the defined substitute merged into context when a
// non-critical stage exhausts its retries.
func fallbackResult(name StageName, stageErr StageError) StageResult {
	res := StageResult{
		Stage:      name,
		Success:    false,
		Confidence: 0.2,
		Errors:     []StageError{stageErr},
	}
	switch name {
	case StageSearch:
		res.Search = &SearchOutput{Sources: nil}
	case StageAnalyst:
		res.Analyst = &AnalystOutput{RiskLevel: "medium"}
	case StageCitation:
		res.Citation = &CitationOutput{Citations: []Citation{}}
	case StageValidator:
		// Pass the draft through untouched, flagged low quality.
		res.Validator = &ValidatorOutput{IsValid: true, QualityScore: 0.3}
	}
	return res
}

func (o *Orchestrator) finishClarification(res StageResult, turn TurnInput, trail []AgentEvent, start time.Time, tokensUsed int64, emit func(AgentEvent) error) (*FinalAnswer, error) {
	fa := &FinalAnswer{
		Answer:          res.Facilitator.ClarificationQuestion,
		Sources:         []Citation{},
		FollowUps:       []string{},
		Confidence:      res.Confidence,
		ProcessingTime:  time.Since(start).Seconds(),
		RelatedKeywords: mergedKeywords(turn, res.Facilitator),
		Clarification:   true,
		Trail:           trail,
		StageOutputs:    map[StageName]StageResult{StageFacilitator: res},
	}
	if err := emit(AgentEvent{Type: EventComplete, Payload: map[string]any{"final_response": fa}}); err != nil {
		return nil, err
	}
	o.telemetry.RecordTurn(telemetry.TurnEvent{
		ConversationID: turn.ConversationID,
		Success:        true,
		Clarification:  true,
		Duration:       time.Since(start),
		TokensUsed:     tokensUsed,
		StagesRun:      []string{string(StageFacilitator)},
	})
	return fa, nil
}

// finishDegraded is the abort path for critical stage failures. The caller
// still gets a well formed complete event carrying the configured apology.
func (o *Orchestrator) finishDegraded(turn TurnInput, prior map[StageName]StageResult, trail []AgentEvent, start time.Time, tokensUsed int64, emit func(AgentEvent) error) (*FinalAnswer, error) {
	var fac *FacilitatorOutput
	if f := prior[StageFacilitator].Facilitator; f != nil {
		fac = f
	}
	fa := &FinalAnswer{
		Answer:          o.degradedAnswer,
		Sources:         []Citation{},
		FollowUps:       []string{},
		Confidence:      0.1,
		ProcessingTime:  time.Since(start).Seconds(),
		RelatedKeywords: mergedKeywords(turn, fac),
		Degraded:        true,
		Trail:           trail,
		StageOutputs:    prior,
	}
	if err := emit(AgentEvent{Type: EventComplete, Payload: map[string]any{"final_response": fa}}); err != nil {
		return nil, err
	}
	o.telemetry.RecordTurn(telemetry.TurnEvent{
		ConversationID: turn.ConversationID,
		Success:        false,
		Duration:       time.Since(start),
		TokensUsed:     tokensUsed,
	})
	return fa, nil
}

func (o *Orchestrator) streamDraft(draft string, emit func(AgentEvent) error) error {
	runes := []rune(draft)
	for len(runes) > 0 {
		n := min(len(runes), contentChunkRunes)
		chunk := string(runes[:n])
		runes = runes[n:]
		if err := emit(AgentEvent{
			Type:    EventContent,
			Agent:   StageResponse,
			Payload: map[string]any{"content": chunk},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) assemble(turn TurnInput, prior map[StageName]StageResult, degraded int, start time.Time) *FinalAnswer {
	draft := ""
	if resp := prior[StageResponse].Response; resp != nil {
		draft = resp.Draft
	}
	citations := []Citation{}
	if cit := prior[StageCitation].Citation; cit != nil && cit.Citations != nil {
		citations = cit.Citations
	}
	followUps := []string{}
	validatorValid := true
	if val := prior[StageValidator].Validator; val != nil {
		if val.FollowUps != nil {
			followUps = val.FollowUps
		}
		validatorValid = val.IsValid
	}

	var confSum float64
	var confN int
	for _, name := range StageOrder {
		if res, ok := prior[name]; ok {
			confSum += res.Confidence
			confN++
		}
	}
	confidence := 0.5
	if confN > 0 {
		confidence = confSum / float64(confN)
	}
	if !validatorValid && confidence > 0.4 {
		confidence = 0.4
	}

	var fac *FacilitatorOutput
	if f := prior[StageFacilitator].Facilitator; f != nil {
		fac = f
	}
	return &FinalAnswer{
		Answer:          draft,
		Sources:         citations,
		FollowUps:       followUps,
		Confidence:      confidence,
		ProcessingTime:  time.Since(start).Seconds(),
		RelatedKeywords: mergedKeywords(turn, fac),
		Degraded:        degraded > 0,
	}
}

// mergedKeywords joins the conversation's accumulated keywords with this
// turn's extraction, deduplicated and capped.
func mergedKeywords(turn TurnInput, fac *FacilitatorOutput) []string {
	seen := make(map[string]struct{})
	out := []string{}
	add := func(items []string) {
		for _, k := range items {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	add(turn.Keywords)
	if fac != nil {
		add(fac.Keywords)
	}
	return capList(out, maxKeywords)
}
