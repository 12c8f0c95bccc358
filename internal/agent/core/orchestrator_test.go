package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/search"
	"github.com/mohammad-safakhou/counsel/internal/telemetry"
	"github.com/mohammad-safakhou/counsel/provider"
)

// fakeProvider routes completions by the system prompt of the request, so
// each stage can be scripted independently.
type fakeProvider struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeProvider) Complete(ctx context.Context, msgs []provider.Message, opts provider.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ""
	if len(msgs) > 0 && msgs[0].Role == "system" {
		key = msgs[0].Content
	}
	f.calls = append(f.calls, key)
	if err := f.errs[key]; err != nil {
		return "", err
	}
	return f.replies[key], nil
}

func (f *fakeProvider) CompleteWithUsage(ctx context.Context, msgs []provider.Message, opts provider.Options) (string, int64, int64, error) {
	out, err := f.Complete(ctx, msgs, opts)
	if err != nil {
		return "", 0, 0, err
	}
	return out, 12, 7, nil
}

type staticBackend struct {
	sources []search.Source
	err     error
}

func (b *staticBackend) Name() string { return "static" }
func (b *staticBackend) Search(ctx context.Context, keywords []string, limit int) ([]search.Source, error) {
	return b.sources, b.err
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			StageTimeout:   time.Second,
			MaxRetries:     1,
			RetryBaseDelay: time.Millisecond,
			DegradedAnswer: "죄송합니다. 잠시 후 다시 시도해 주세요.",
		},
		Stages: config.StagesConfig{
			Facilitator: config.StageConfig{Model: "gpt-4", SystemPrompt: "FAC"},
			Search:      config.StageConfig{Model: "gpt-4", SystemPrompt: "SEA"},
			Analyst:     config.StageConfig{Model: "gpt-4", SystemPrompt: "ANA"},
			Response:    config.StageConfig{Model: "gpt-4", SystemPrompt: "RES"},
			Citation:    config.StageConfig{Model: "gpt-4", SystemPrompt: "CIT"},
			Validator:   config.StageConfig{Model: "gpt-4", SystemPrompt: "VAL"},
		},
		Search: config.SearchConfig{MaxResults: 10, MaxRounds: 1},
	}
}

func happyReplies() map[string]string {
	return map[string]string{
		"FAC": "1. intent = {law_search}\n2. search keywords = {개인정보보호법, 제15조, 수집 동의}",
		"ANA": "1. issues = {수집 동의 요건, 수집 제한 원칙}\n2. risk = {medium}\n3. summary = {개인정보 수집에는 정보주체의 동의가 필요하다}",
		"RES": "개인정보보호법 제15조에 따르면 개인정보 수집에는 정보주체의 동의가 필요합니다.",
		"CIT": "1. = {개인정보 수집의 법적 근거 조항}",
		"VAL": "1. valid = {yes}\n2. quality = {0.85}\n3. followup = {동의 철회 방법은 무엇인가요?, 제3자 제공 기준은 무엇인가요?}",
	}
}

func lawSources() []search.Source {
	return []search.Source{
		{Name: "개인정보보호법 제15조", Excerpt: "개인정보의 수집 및 이용", Link: "https://law.go.kr/15", Type: search.SourceStatute, Relevance: 0.9},
		{Name: "대법원 2016다12345", Excerpt: "동의 없는 수집의 손해배상", Link: "https://court.go.kr/12345", Type: search.SourcePrecedent, Relevance: 0.7},
	}
}

func newTestPipeline(t *testing.T, prov provider.Provider, backend search.Backend) *Orchestrator {
	t.Helper()
	cfg := testConfig()
	coord := search.NewCoordinator([]search.Backend{backend}, time.Second, nil)
	stages := NewStages(cfg, prov, coord, nil)
	return NewOrchestrator(cfg.Pipeline, stages, nil, nil)
}

func runTurn(t *testing.T, o *Orchestrator, message string) (*FinalAnswer, []AgentEvent) {
	t.Helper()
	sink := &CollectorSink{}
	turn := TurnInput{ConversationID: "conv-1", UserMessage: message}
	fa, err := o.RunTurn(context.Background(), turn, sink)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	return fa, sink.Events
}

func stageStarts(events []AgentEvent) []StageName {
	var out []StageName
	for _, ev := range events {
		if ev.Type == EventStageStarted {
			out = append(out, ev.Agent)
		}
	}
	return out
}

func TestFullRunStageOrdering(t *testing.T) {
	prov := &fakeProvider{replies: happyReplies()}
	o := newTestPipeline(t, prov, &staticBackend{sources: lawSources()})

	fa, events := runTurn(t, o, "개인정보보호법 제15조 수집 동의 절차가 궁금합니다")

	got := stageStarts(events)
	if len(got) != len(StageOrder) {
		t.Fatalf("expected %d stage starts, got %v", len(StageOrder), got)
	}
	for i, name := range StageOrder {
		if got[i] != name {
			t.Fatalf("stage order = %v, want %v", got, StageOrder)
		}
	}
	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("last event = %s, want complete", last.Type)
	}
	if fa.Confidence < 0 || fa.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", fa.Confidence)
	}
	found := false
	for _, c := range fa.Sources {
		if strings.Contains(c.SourceName, "개인정보보호법 제15조") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a citation for 개인정보보호법 제15조, got %+v", fa.Sources)
	}
	if len(fa.FollowUps) != 2 {
		t.Fatalf("expected 2 follow-ups, got %v", fa.FollowUps)
	}
}

func TestClarificationShortCircuits(t *testing.T) {
	replies := happyReplies()
	replies["FAC"] = "1. intent = {general_inquiry}\n2. search keywords = {개인정보}\n3(option). = {어떤 상황에서의 개인정보 문제인지 조금 더 알려주시겠어요?}"
	prov := &fakeProvider{replies: replies}
	o := newTestPipeline(t, prov, &staticBackend{sources: lawSources()})

	fa, events := runTurn(t, o, "개인정보 관련 질문이 있어요")

	if !fa.Clarification {
		t.Fatal("expected clarification outcome")
	}
	if fa.Answer != "어떤 상황에서의 개인정보 문제인지 조금 더 알려주시겠어요?" {
		t.Fatalf("answer should be the clarification question, got %q", fa.Answer)
	}
	if len(fa.Sources) != 0 {
		t.Fatalf("clarification must carry no citations, got %v", fa.Sources)
	}
	starts := stageStarts(events)
	if len(starts) != 1 || starts[0] != StageFacilitator {
		t.Fatalf("only facilitator should run, got %v", starts)
	}
	if events[len(events)-1].Type != EventComplete {
		t.Fatal("clarification must end with complete")
	}
}

func TestSearchFailureDegradesConfidence(t *testing.T) {
	prov := &fakeProvider{replies: happyReplies()}
	okRun := newTestPipeline(t, prov, &staticBackend{sources: lawSources()})
	okFA, _ := runTurn(t, okRun, "개인정보보호법 제15조 수집 동의 절차가 궁금합니다")

	prov2 := &fakeProvider{replies: happyReplies()}
	badRun := newTestPipeline(t, prov2, &staticBackend{err: errors.New("search backend down")})
	badFA, events := runTurn(t, badRun, "개인정보보호법 제15조 수집 동의 절차가 궁금합니다")

	if len(badFA.Sources) != 0 {
		t.Fatalf("degraded run should carry no sources, got %v", badFA.Sources)
	}
	if badFA.Confidence >= okFA.Confidence {
		t.Fatalf("degraded confidence %v should be below %v", badFA.Confidence, okFA.Confidence)
	}
	sawSearchError := false
	for _, ev := range events {
		if ev.Type == EventError && ev.Agent == StageSearch {
			sawSearchError = true
		}
	}
	if !sawSearchError {
		t.Fatal("trail should record the search failure")
	}
	if events[len(events)-1].Type != EventComplete {
		t.Fatal("degraded run must still end with complete")
	}
}

func TestCitationsAreGroundedInSearchResults(t *testing.T) {
	prov := &fakeProvider{replies: happyReplies()}
	o := newTestPipeline(t, prov, &staticBackend{sources: lawSources()})

	fa, _ := runTurn(t, o, "개인정보보호법 제15조 수집 동의 절차가 궁금합니다")

	allowed := make(map[string]bool)
	for _, s := range lawSources() {
		allowed[s.Name+"|"+s.Link] = true
	}
	for _, c := range fa.Sources {
		if !allowed[c.SourceName+"|"+c.Link] {
			t.Fatalf("citation %q/%q not present in search results", c.SourceName, c.Link)
		}
	}
}

func TestFacilitatorFailureAbortsWithDegradedAnswer(t *testing.T) {
	prov := &fakeProvider{
		replies: happyReplies(),
		errs:    map[string]error{"FAC": errors.New("model returned garbage")},
	}
	o := newTestPipeline(t, prov, &staticBackend{sources: lawSources()})

	fa, events := runTurn(t, o, "질문입니다")

	if !fa.Degraded {
		t.Fatal("expected degraded answer")
	}
	if fa.Answer != "죄송합니다. 잠시 후 다시 시도해 주세요." {
		t.Fatalf("unexpected degraded answer %q", fa.Answer)
	}
	if events[len(events)-1].Type != EventComplete {
		t.Fatal("abort must still end with a terminal complete")
	}
	starts := stageStarts(events)
	if len(starts) != 1 {
		t.Fatalf("no stage should run past the aborted facilitator, got %v", starts)
	}
}

func TestValidatorFailurePassesDraftThrough(t *testing.T) {
	prov := &fakeProvider{
		replies: happyReplies(),
		errs:    map[string]error{"VAL": errors.New("validator broke")},
	}
	o := newTestPipeline(t, prov, &staticBackend{sources: lawSources()})

	fa, events := runTurn(t, o, "개인정보보호법 제15조 수집 동의 절차가 궁금합니다")

	if fa.Answer == "" || !strings.Contains(fa.Answer, "개인정보보호법") {
		t.Fatalf("draft should survive validator failure, got %q", fa.Answer)
	}
	if events[len(events)-1].Type != EventComplete {
		t.Fatal("turn must complete despite validator failure")
	}
}

// hangingBackend blocks until its context expires, simulating a search
// dependency that stops answering.
type hangingBackend struct {
	calls int32
}

func (b *hangingBackend) Name() string { return "hanging" }
func (b *hangingBackend) Search(ctx context.Context, keywords []string, limit int) ([]search.Source, error) {
	atomic.AddInt32(&b.calls, 1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSearchTimeoutRetriedThenTurnCompletes(t *testing.T) {
	prov := &fakeProvider{replies: happyReplies()}
	cfg := testConfig()
	cfg.Pipeline.StageTimeout = 50 * time.Millisecond
	cfg.Pipeline.MaxRetries = 2
	backend := &hangingBackend{}
	coord := search.NewCoordinator([]search.Backend{backend}, time.Second, nil)
	stages := NewStages(cfg, prov, coord, nil)
	o := NewOrchestrator(cfg.Pipeline, stages, nil, nil)

	fa, events := runTurn(t, o, "임대차 보증금 반환 절차가 궁금합니다")

	if got := atomic.LoadInt32(&backend.calls); got < 2 {
		t.Fatalf("timed out search should be retried, got %d attempts", got)
	}
	if len(fa.Sources) != 0 {
		t.Fatalf("no sources should survive the timeout, got %+v", fa.Sources)
	}
	sawTimeout := false
	for _, ev := range events {
		if ev.Type == EventError && ev.Agent == StageSearch && ev.Payload["kind"] == string(ErrTimeout) {
			sawTimeout = true
		}
	}
	if !sawTimeout {
		t.Fatal("trail should record the search timeout")
	}
	if events[len(events)-1].Type != EventComplete {
		t.Fatal("turn must still end with complete")
	}
}

func TestTokenUsageReachesCostTracking(t *testing.T) {
	prov := &fakeProvider{replies: happyReplies()}
	cfg := testConfig()
	tel := telemetry.NewTelemetry(config.TelemetryConfig{Enabled: true, CostTracking: true}, prometheus.NewRegistry())
	coord := search.NewCoordinator([]search.Backend{&staticBackend{sources: lawSources()}}, time.Second, nil)
	stages := NewStages(cfg, prov, coord, nil)
	o := NewOrchestrator(cfg.Pipeline, stages, tel, nil)

	sink := &CollectorSink{}
	if _, err := o.RunTurn(context.Background(), TurnInput{ConversationID: "conv-1", UserMessage: "개인정보보호법 제15조 수집 동의 절차가 궁금합니다"}, sink); err != nil {
		t.Fatalf("run turn: %v", err)
	}

	// five model calls: facilitator, analyst, response, citation, validator
	const wantTokens = 5 * (12 + 7)
	summary := tel.GetCostSummary()
	if total := summary["total_tokens"].(int64); total != wantTokens {
		t.Fatalf("total tokens = %d, want %d", total, wantTokens)
	}
	perModel := summary["model_tokens"].(map[string]int64)
	if perModel["gpt-4"] != wantTokens {
		t.Fatalf("gpt-4 tokens = %d, want %d", perModel["gpt-4"], wantTokens)
	}
}

func TestTransientProviderErrorIsRetried(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}
	retries, err := policy.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("rate limited: %w", provider.ErrTransient)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if retries != 2 {
		t.Fatalf("expected 2 retries, got %d", retries)
	}
}

func TestFatalErrorIsNotRetried(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}
	_, err := policy.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("unparseable output")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("fatal error should not retry, got %d attempts", attempts)
	}
}

func TestCancelledTurnReturnsError(t *testing.T) {
	prov := &fakeProvider{replies: happyReplies()}
	o := newTestPipeline(t, prov, &staticBackend{sources: lawSources()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &CollectorSink{}
	if _, err := o.RunTurn(ctx, TurnInput{ConversationID: "c", UserMessage: "q"}, sink); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestChannelSinkCancelStopsProducer(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Cancel()
	err := sink.Emit(context.Background(), AgentEvent{Type: EventContent})
	if !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}

func TestChannelSinkDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	for i := 0; i < 3; i++ {
		if err := sink.Emit(context.Background(), AgentEvent{Type: EventContent, Payload: map[string]any{"i": i}}); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
	sink.Finish()
	i := 0
	for ev := range sink.Events() {
		if ev.Payload["i"] != i {
			t.Fatalf("out of order delivery at %d: %v", i, ev.Payload)
		}
		i++
	}
	if i != 3 {
		t.Fatalf("expected 3 events, got %d", i)
	}
}
