package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/agent/core"
	"github.com/mohammad-safakhou/counsel/internal/conversation"
	"github.com/mohammad-safakhou/counsel/internal/search"
	"github.com/mohammad-safakhou/counsel/internal/store"
	"github.com/mohammad-safakhou/counsel/internal/telemetry"
	"github.com/mohammad-safakhou/counsel/provider"
)

type ChatHandler struct {
	Config      *config.Config
	Admin       *AdminHandler
	Provider    provider.Provider
	Coordinator *search.Coordinator
	Manager     *conversation.Manager
	Store       *store.Store
	Telemetry   *telemetry.Telemetry
	Logger      *log.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the conversation so far, newest user message last.
// A bare message field is accepted as shorthand for a one-element list.
type ChatRequest struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []chatMessage `json:"messages"`
	Message        string        `json:"message"`
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat/stream", h.streamChat)
	g.GET("/conversations/:id", h.getConversation)
	g.DELETE("/conversations/:id", h.deleteConversation)
}

// streamChat runs one pipeline turn and streams its events via Server-Sent
// Events. The stream closes right after the terminal complete or error.
func (h *ChatHandler) streamChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userMessage := lastUserMessage(req)
	if userMessage == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "a user message is required")
	}
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		convID = uuid.NewString()
	}

	conv, err := h.Manager.BeginTurn(convID)
	switch {
	case err == conversation.ErrBusy:
		return echo.NewHTTPError(http.StatusConflict, "conversation is processing another turn")
	case err == conversation.ErrTurnLimit:
		return echo.NewHTTPError(http.StatusTooManyRequests, h.Config.Pipeline.TurnLimitAnswer)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	cfg, err := h.Admin.EffectiveConfig(c.Request().Context())
	if err != nil {
		h.Manager.AbortTurn(convID)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	stages := core.NewStages(cfg, h.Provider, h.Coordinator, h.Logger)
	orch := core.NewOrchestrator(cfg.Pipeline, stages, h.Telemetry, h.Logger)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Conversation-Id", convID)
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		h.Manager.AbortTurn(convID)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	ctx := c.Request().Context()
	turn := core.TurnInput{
		ConversationID: convID,
		History:        conv.History(),
		UserMessage:    userMessage,
		Keywords:       conv.Keywords,
	}

	sink := core.NewChannelSink(h.Config.Pipeline.EventBuffer)
	type outcome struct {
		fa  *core.FinalAnswer
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		fa, err := orch.RunTurn(ctx, turn, sink)
		sink.Finish()
		done <- outcome{fa: fa, err: err}
	}()

	streamErr := h.writeEvents(ctx, resp, flusher, sink)
	if streamErr != nil {
		// Unblock the producer before waiting for it.
		sink.Cancel()
	}
	out := <-done

	if streamErr != nil || out.err != nil {
		// Client disconnect or pipeline cancellation. History stays
		// exactly as it was before this turn.
		h.Manager.AbortTurn(convID)
		return nil
	}

	if err := h.Manager.CommitTurn(convID, conversation.TurnResult{
		UserMessage:      userMessage,
		AssistantMessage: out.fa.Answer,
		Keywords:         out.fa.RelatedKeywords,
		StageOutputs:     out.fa.StageOutputs,
		Trail:            out.fa.Trail,
		AdvanceTurn:      !out.fa.Clarification,
	}); err != nil {
		h.Logger.Printf("commit turn %s: %v", convID, err)
	}

	if h.Store != nil && !out.fa.Clarification {
		snap, _ := h.Manager.Get(convID)
		if err := h.Store.SaveTurn(context.Background(), convID, snap.TurnCount, userMessage, out.fa); err != nil {
			h.Logger.Printf("archive turn %s: %v", convID, err)
		}
	}
	return nil
}

// writeEvents pumps sink events onto the wire until the channel closes or
// the client goes away.
func (h *ChatHandler) writeEvents(ctx context.Context, resp *echo.Response, flusher http.Flusher, sink *core.ChannelSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sink.Events():
			if !ok {
				return nil
			}
			payload, err := json.Marshal(streamFrame(ev))
			if err != nil {
				h.Logger.Printf("marshal event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// streamFrame flattens an AgentEvent into the wire shape the client reads.
func streamFrame(ev core.AgentEvent) map[string]any {
	frame := map[string]any{"type": string(ev.Type)}
	if ev.Agent != "" {
		frame["agent"] = string(ev.Agent)
	}
	for k, v := range ev.Payload {
		frame[k] = v
	}
	return frame
}

func (h *ChatHandler) getConversation(c echo.Context) error {
	snap, err := h.Manager.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *ChatHandler) deleteConversation(c echo.Context) error {
	h.Manager.Clear(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func lastUserMessage(req ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return strings.TrimSpace(req.Messages[i].Content)
		}
	}
	return strings.TrimSpace(req.Message)
}
