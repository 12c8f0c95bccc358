package core

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/counsel/internal/search"
	"github.com/mohammad-safakhou/counsel/provider"
)

// StageName identifies one step of the fixed reasoning sequence.
type StageName string

const (
	StageFacilitator StageName = "facilitator"
	StageSearch      StageName = "search"
	StageAnalyst     StageName = "analyst"
	StageResponse    StageName = "response"
	StageCitation    StageName = "citation"
	StageValidator   StageName = "validator"
)

// StageOrder is the fixed execution sequence for one turn.
var StageOrder = []StageName{
	StageFacilitator, StageSearch, StageAnalyst,
	StageResponse, StageCitation, StageValidator,
}

// ErrorKind classifies a stage failure for the retry and fallback policy.
type ErrorKind string

const (
	ErrTransient ErrorKind = "transient"
	ErrFatal     ErrorKind = "fatal"
	ErrTimeout   ErrorKind = "timeout"
)

type StageError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Intent values the facilitator may classify a question into.
const (
	IntentLawSearch           = "law_search"
	IntentPrecedentSearch     = "precedent_search"
	IntentLegalInterpretation = "legal_interpretation"
	IntentProceduralGuidance  = "procedural_guidance"
	IntentComparativeAnalysis = "comparative_analysis"
	IntentGeneralInquiry      = "general_inquiry"
)

// FacilitatorOutput is the intent/keyword classification for the new message.
type FacilitatorOutput struct {
	Intent                string   `json:"intent"`
	Keywords              []string `json:"keywords"`
	NeedsClarification    bool     `json:"needsClarification"`
	ClarificationQuestion string   `json:"clarificationQuestion,omitempty"`
}

// SearchOutput carries the retrieved sources, ordered by descending relevance.
type SearchOutput struct {
	Sources []search.Source `json:"sources"`
	Rounds  int             `json:"rounds"`
}

type AnalystOutput struct {
	Issues    []string `json:"issues"`
	RiskLevel string   `json:"riskLevel"`
	Summary   string   `json:"summary"`
}

type ResponseOutput struct {
	Draft string `json:"draft"`
}

// Citation is one structured reference in the final answer.
type Citation struct {
	SourceName  string  `json:"source_name"`
	Description string  `json:"description"`
	Link        string  `json:"link"`
	Confidence  float64 `json:"confidence"`
}

type CitationOutput struct {
	Citations []Citation `json:"citations"`
}

type ValidatorOutput struct {
	IsValid      bool     `json:"isValid"`
	QualityScore float64  `json:"qualityScore"`
	FollowUps    []string `json:"followUps"`
}

// StageResult is the typed outcome of one stage execution. Exactly one of
// the variant pointers matching Stage is set; RawOutput keeps the model's
// unparsed text for the trail.
type StageResult struct {
	Stage      StageName    `json:"stage"`
	Success    bool         `json:"success"`
	Confidence float64      `json:"confidence"`
	RawOutput  string       `json:"-"`
	Model      string       `json:"-"`
	TokensUsed int64        `json:"-"`
	Errors     []StageError `json:"errors,omitempty"`

	Facilitator *FacilitatorOutput `json:"facilitator,omitempty"`
	Search      *SearchOutput      `json:"search,omitempty"`
	Analyst     *AnalystOutput     `json:"analyst,omitempty"`
	Response    *ResponseOutput    `json:"response,omitempty"`
	Citation    *CitationOutput    `json:"citation,omitempty"`
	Validator   *ValidatorOutput   `json:"validator,omitempty"`
}

// EventType discriminates the streamed progress events.
type EventType string

const (
	EventStageStarted EventType = "stage_started"
	EventAgentStep    EventType = "agent_step"
	EventContent      EventType = "content"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// AgentEvent is one unit of progress emitted during a turn. Events of a
// turn are strictly ordered; complete or error is always last.
type AgentEvent struct {
	Type      EventType      `json:"type"`
	Agent     StageName      `json:"agent,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// FinalAnswer is the structured terminal output of one turn.
type FinalAnswer struct {
	Answer          string     `json:"answer"`
	Sources         []Citation `json:"sources"`
	FollowUps       []string   `json:"followUps"`
	Confidence      float64    `json:"confidence"`
	ProcessingTime  float64    `json:"processing_time"`
	RelatedKeywords []string   `json:"related_keywords"`

	Clarification bool                      `json:"-"`
	Degraded      bool                      `json:"-"`
	Trail         []AgentEvent              `json:"-"`
	StageOutputs  map[StageName]StageResult `json:"-"`
}

// TurnInput is the context snapshot a stage reads. Stages never mutate
// conversation state directly.
type TurnInput struct {
	ConversationID string
	History        []provider.Message
	UserMessage    string
	Keywords       []string
}

// Stage is one step of the pipeline. Execute reads the turn snapshot and the
// outputs of earlier stages in this turn and returns a typed result. Errors
// wrapping provider.ErrTransient are retried by the orchestrator.
type Stage interface {
	Name() StageName
	Execute(ctx context.Context, turn TurnInput, prior map[StageName]StageResult) (StageResult, error)
}
