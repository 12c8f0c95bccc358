package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammad-safakhou/counsel/config"
)

func newTestTelemetry() *Telemetry {
	return NewTelemetry(config.TelemetryConfig{Enabled: true, CostTracking: true}, prometheus.NewRegistry())
}

func TestRecordTurnCountsOutcomes(t *testing.T) {
	tel := newTestTelemetry()

	tel.RecordTurn(TurnEvent{ConversationID: "c1", Success: true, Duration: time.Second})
	tel.RecordTurn(TurnEvent{ConversationID: "c1", Success: false, Duration: time.Second})
	tel.RecordTurn(TurnEvent{ConversationID: "c2", Clarification: true, Duration: time.Second})

	m := tel.GetMetrics()
	if m.TotalTurns != 3 {
		t.Fatalf("total turns = %d", m.TotalTurns)
	}
	if m.SuccessfulTurns != 1 || m.FailedTurns != 1 || m.Clarifications != 1 {
		t.Fatalf("unexpected outcome counts: %+v", m)
	}
}

func TestRecordStageAggregates(t *testing.T) {
	tel := newTestTelemetry()

	tel.RecordStage(StageEvent{Stage: "search", Success: true, Retries: 2, Duration: time.Millisecond})
	tel.RecordStage(StageEvent{Stage: "search", Success: false, Duration: time.Millisecond})

	m := tel.GetMetrics()
	if m.StageExecutions["search"] != 2 {
		t.Fatalf("executions = %d", m.StageExecutions["search"])
	}
	if m.StageFailures["search"] != 1 {
		t.Fatalf("failures = %d", m.StageFailures["search"])
	}
	if m.StageRetries["search"] != 2 {
		t.Fatalf("retries = %d", m.StageRetries["search"])
	}
}

func TestCostTrackingAccumulatesPerModel(t *testing.T) {
	tel := newTestTelemetry()

	tel.RecordStage(StageEvent{Stage: "facilitator", Success: true, Model: "gpt-4", TokensUsed: 100, Duration: time.Millisecond})
	tel.RecordStage(StageEvent{Stage: "analyst", Success: true, Model: "gpt-4", TokensUsed: 40, Duration: time.Millisecond})
	tel.RecordStage(StageEvent{Stage: "validator", Success: true, Model: "gpt-3.5-turbo", TokensUsed: 10, Duration: time.Millisecond})
	tel.RecordTurn(TurnEvent{ConversationID: "c1", Success: true, TokensUsed: 150, Duration: time.Second})

	summary := tel.GetCostSummary()
	if total := summary["total_tokens"].(int64); total != 150 {
		t.Fatalf("total tokens = %d", total)
	}
	perModel := summary["model_tokens"].(map[string]int64)
	if perModel["gpt-4"] != 140 {
		t.Fatalf("gpt-4 tokens = %d", perModel["gpt-4"])
	}
	if perModel["gpt-3.5-turbo"] != 10 {
		t.Fatalf("gpt-3.5-turbo tokens = %d", perModel["gpt-3.5-turbo"])
	}
}

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel := NewTelemetry(config.TelemetryConfig{Enabled: false}, prometheus.NewRegistry())
	tel.RecordTurn(TurnEvent{Success: true})
	if m := tel.GetMetrics(); m.TotalTurns != 0 {
		t.Fatalf("disabled telemetry recorded %d turns", m.TotalTurns)
	}
}
