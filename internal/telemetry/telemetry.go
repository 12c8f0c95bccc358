package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/counsel/config"
)

// Telemetry tracks pipeline performance and LLM cost across turns.
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	metrics *Metrics
	costs   *CostTracker
	mu      sync.RWMutex

	turnsTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	tokensTotal   prometheus.Counter
}

// Metrics holds aggregate pipeline metrics.
type Metrics struct {
	TotalTurns      int64
	SuccessfulTurns int64
	FailedTurns     int64
	Clarifications  int64
	AverageTurnTime time.Duration

	StageExecutions map[string]int64
	StageFailures   map[string]int64
	StageRetries    map[string]int64
}

// CostTracker accumulates LLM spend per model.
type CostTracker struct {
	ModelTokens map[string]int64
	TotalTokens int64
}

// TurnEvent records one completed (or failed) pipeline turn.
type TurnEvent struct {
	ConversationID string
	Success        bool
	Clarification  bool
	Duration       time.Duration
	TokensUsed     int64
	StagesRun      []string
}

// StageEvent records one logical stage execution.
type StageEvent struct {
	Stage      string
	Success    bool
	Retries    int
	Duration   time.Duration
	Model      string
	TokensUsed int64
	Confidence float64
}

// NewTelemetry creates a telemetry instance and registers Prometheus series
// on the given registerer (pass prometheus.DefaultRegisterer in production,
// a fresh registry in tests).
func NewTelemetry(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			StageExecutions: make(map[string]int64),
			StageFailures:   make(map[string]int64),
			StageRetries:    make(map[string]int64),
		},
		costs: &CostTracker{ModelTokens: make(map[string]int64)},
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counsel", Name: "turns_total",
			Help: "Pipeline turns by outcome.",
		}, []string{"outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "counsel", Name: "stage_duration_seconds",
			Help:    "Stage execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counsel", Name: "stage_failures_total",
			Help: "Stage failures after retries, by stage.",
		}, []string{"stage"}),
		tokensTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "counsel", Name: "llm_tokens_total",
			Help: "LLM tokens consumed.",
		}),
	}
	return t
}

// RecordTurn records a completed turn.
func (t *Telemetry) RecordTurn(event TurnEvent) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalTurns++
	outcome := "failed"
	switch {
	case event.Clarification:
		t.metrics.Clarifications++
		outcome = "clarification"
	case event.Success:
		t.metrics.SuccessfulTurns++
		outcome = "success"
	default:
		t.metrics.FailedTurns++
	}
	t.turnsTotal.WithLabelValues(outcome).Inc()

	if t.metrics.TotalTurns == 1 {
		t.metrics.AverageTurnTime = event.Duration
	} else {
		total := t.metrics.AverageTurnTime * time.Duration(t.metrics.TotalTurns-1)
		t.metrics.AverageTurnTime = (total + event.Duration) / time.Duration(t.metrics.TotalTurns)
	}

	if t.config.CostTracking {
		t.costs.TotalTokens += event.TokensUsed
		t.tokensTotal.Add(float64(event.TokensUsed))
	}

	t.logger.Printf("Turn: conv=%s outcome=%s duration=%v tokens=%d stages=%d",
		event.ConversationID, outcome, event.Duration, event.TokensUsed, len(event.StagesRun))
}

// RecordStage records one logical stage execution.
func (t *Telemetry) RecordStage(event StageEvent) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.StageExecutions[event.Stage]++
	if !event.Success {
		t.metrics.StageFailures[event.Stage]++
		t.stageFailures.WithLabelValues(event.Stage).Inc()
	}
	if event.Retries > 0 {
		t.metrics.StageRetries[event.Stage] += int64(event.Retries)
	}
	t.stageDuration.WithLabelValues(event.Stage).Observe(event.Duration.Seconds())
	if t.config.CostTracking && event.Model != "" {
		t.costs.ModelTokens[event.Model] += event.TokensUsed
	}
}

// GetMetrics returns a copy of the aggregate metrics.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := Metrics{
		TotalTurns:      t.metrics.TotalTurns,
		SuccessfulTurns: t.metrics.SuccessfulTurns,
		FailedTurns:     t.metrics.FailedTurns,
		Clarifications:  t.metrics.Clarifications,
		AverageTurnTime: t.metrics.AverageTurnTime,
		StageExecutions: make(map[string]int64, len(t.metrics.StageExecutions)),
		StageFailures:   make(map[string]int64, len(t.metrics.StageFailures)),
		StageRetries:    make(map[string]int64, len(t.metrics.StageRetries)),
	}
	for k, v := range t.metrics.StageExecutions {
		out.StageExecutions[k] = v
	}
	for k, v := range t.metrics.StageFailures {
		out.StageFailures[k] = v
	}
	for k, v := range t.metrics.StageRetries {
		out.StageRetries[k] = v
	}
	return out
}

// GetCostSummary returns total and per-model token usage.
func (t *Telemetry) GetCostSummary() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	perModel := make(map[string]int64, len(t.costs.ModelTokens))
	for k, v := range t.costs.ModelTokens {
		perModel[k] = v
	}
	return map[string]interface{}{
		"total_tokens": t.costs.TotalTokens,
		"model_tokens": perModel,
	}
}
