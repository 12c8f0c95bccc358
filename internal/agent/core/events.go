package core

import (
	"context"
	"errors"
)

// ErrSinkClosed is returned by Emit after the consumer has gone away.
var ErrSinkClosed = errors.New("event sink closed")

// EventSink receives the orchestrator's progress events. Emit must not block
// indefinitely; a closed consumer surfaces as ErrSinkClosed.
type EventSink interface {
	Emit(ctx context.Context, ev AgentEvent) error
}

// ChannelSink bridges the orchestrator to a transport over a bounded buffer.
// The producer calls Emit and Finish; the consumer reads Events and calls
// Cancel when it disconnects.
type ChannelSink struct {
	ch   chan AgentEvent
	done chan struct{}
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 32
	}
	return &ChannelSink{
		ch:   make(chan AgentEvent, buffer),
		done: make(chan struct{}),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, ev AgentEvent) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ch <- ev:
		return nil
	case <-s.done:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the consumer side. The channel closes after Finish.
func (s *ChannelSink) Events() <-chan AgentEvent { return s.ch }

// Finish signals no more events will be emitted. Producer side only.
func (s *ChannelSink) Finish() { close(s.ch) }

// Cancel tells the producer the consumer is gone. Safe to call once.
func (s *ChannelSink) Cancel() { close(s.done) }

// CollectorSink records events in memory, for tests and for non-streaming
// callers that only want the final trail.
type CollectorSink struct {
	Events []AgentEvent
}

func (s *CollectorSink) Emit(ctx context.Context, ev AgentEvent) error {
	s.Events = append(s.Events, ev)
	return nil
}
