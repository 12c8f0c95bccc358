package conversation

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/counsel/internal/agent/core"
	"github.com/mohammad-safakhou/counsel/provider"
)

var (
	// ErrNotFound is returned when a conversation id is unknown.
	ErrNotFound = errors.New("conversation not found")
	// ErrBusy is returned when a turn is already running for the conversation.
	ErrBusy = errors.New("conversation is processing another turn")
	// ErrTurnLimit is returned when the conversation has used all its turns.
	ErrTurnLimit = errors.New("conversation turn limit exceeded")
)

// Manager owns all live conversations. Turns follow a begin/commit protocol:
// BeginTurn reserves the conversation, CommitTurn applies the turn's effects,
// AbortTurn releases without applying, so a cancelled or failed turn leaves
// the history exactly as it was.
type Manager struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	maxTurns      int
	idleTTL       time.Duration
	logger        *log.Logger
	done          chan struct{}
	closeOnce     sync.Once
}

func NewManager(maxTurns int, idleTTL time.Duration, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[CONV] ", log.LstdFlags)
	}
	m := &Manager{
		conversations: make(map[string]*Conversation),
		maxTurns:      maxTurns,
		idleTTL:       idleTTL,
		logger:        logger,
		done:          make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// BeginTurn reserves the conversation for one turn, creating it on first use.
// It fails fast when another turn is in flight and rejects turns past the
// configured limit before any stage runs.
func (m *Manager) BeginTurn(id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		now := time.Now()
		c = &Conversation{ID: id, CreatedAt: now, LastActiveAt: now}
		m.conversations[id] = c
	}
	if c.busy {
		return nil, ErrBusy
	}
	if m.maxTurns > 0 && c.TurnCount >= m.maxTurns {
		return nil, ErrTurnLimit
	}
	c.busy = true
	c.LastActiveAt = time.Now()
	return c, nil
}

// TurnResult is what a completed turn writes back into the conversation.
type TurnResult struct {
	UserMessage      string
	AssistantMessage string
	Keywords         []string
	StageOutputs     map[core.StageName]core.StageResult
	Trail            []core.AgentEvent
	// AdvanceTurn is false for clarification turns, which do not count
	// toward the turn limit.
	AdvanceTurn bool
}

// CommitTurn applies a finished turn and releases the reservation.
func (m *Manager) CommitTurn(id string, res TurnResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Messages = append(c.Messages,
		provider.Message{Role: "user", Content: res.UserMessage},
		provider.Message{Role: "assistant", Content: res.AssistantMessage},
	)
	c.Keywords = mergeKeywords(c.Keywords, res.Keywords)
	if res.StageOutputs != nil {
		c.LastStageOutputs = res.StageOutputs
	}
	if res.Trail != nil {
		c.LastTrail = res.Trail
	}
	if res.AdvanceTurn {
		c.TurnCount++
	}
	c.LastActiveAt = time.Now()
	c.busy = false
	return nil
}

// AbortTurn releases the reservation without touching history.
func (m *Manager) AbortTurn(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		c.busy = false
		c.LastActiveAt = time.Now()
	}
}

// Get returns a snapshot of one conversation.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snapshotOf(c), nil
}

// Clear removes a conversation. Clearing an unknown id is a no-op.
func (m *Manager) Clear(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
}

// Len reports how many conversations are live.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// Close stops the eviction loop.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Manager) evictLoop() {
	if m.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(m.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle(time.Now())
		}
	}
}

func (m *Manager) evictIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.conversations {
		if !c.busy && now.Sub(c.LastActiveAt) > m.idleTTL {
			delete(m.conversations, id)
			m.logger.Printf("evicted idle conversation %s", id)
		}
	}
}

func snapshotOf(c *Conversation) Snapshot {
	kw := make([]string, len(c.Keywords))
	copy(kw, c.Keywords)
	var outputs map[core.StageName]core.StageResult
	if c.LastStageOutputs != nil {
		outputs = make(map[core.StageName]core.StageResult, len(c.LastStageOutputs))
		for k, v := range c.LastStageOutputs {
			outputs[k] = v
		}
	}
	trail := make([]core.AgentEvent, len(c.LastTrail))
	copy(trail, c.LastTrail)
	return Snapshot{
		ID:               c.ID,
		TurnCount:        c.TurnCount,
		MessageCount:     len(c.Messages),
		Keywords:         kw,
		CreatedAt:        c.CreatedAt,
		LastActiveAt:     c.LastActiveAt,
		Busy:             c.busy,
		LastStageOutputs: outputs,
		LastTrail:        trail,
	}
}

// mergeKeywords appends new keywords preserving first-seen order, without
// duplicates.
func mergeKeywords(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, k := range existing {
		seen[k] = struct{}{}
	}
	for _, k := range added {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		existing = append(existing, k)
	}
	return existing
}
