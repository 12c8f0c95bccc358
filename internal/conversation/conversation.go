package conversation

import (
	"time"

	"github.com/mohammad-safakhou/counsel/internal/agent/core"
	"github.com/mohammad-safakhou/counsel/provider"
)

// Conversation is the per-conversation state the pipeline reads each turn.
// All mutation goes through the Manager so a turn either commits whole or
// leaves the state untouched.
type Conversation struct {
	ID           string
	Messages     []provider.Message
	TurnCount    int
	Keywords     []string
	CreatedAt    time.Time
	LastActiveAt time.Time

	// LastStageOutputs and LastTrail hold the most recently committed
	// turn's stage results and event trail, replaced wholesale each turn.
	LastStageOutputs map[core.StageName]core.StageResult
	LastTrail        []core.AgentEvent

	busy bool
}

// History returns a copy of the message history safe to hand to a stage.
func (c *Conversation) History() []provider.Message {
	out := make([]provider.Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// Snapshot is the read-only view served by the status endpoint.
type Snapshot struct {
	ID               string                              `json:"id"`
	TurnCount        int                                 `json:"turnCount"`
	MessageCount     int                                 `json:"messageCount"`
	Keywords         []string                            `json:"keywords"`
	CreatedAt        time.Time                           `json:"createdAt"`
	LastActiveAt     time.Time                           `json:"lastActiveAt"`
	Busy             bool                                `json:"busy"`
	LastStageOutputs map[core.StageName]core.StageResult `json:"lastStageOutputs,omitempty"`
	LastTrail        []core.AgentEvent                   `json:"lastTrail,omitempty"`
}
