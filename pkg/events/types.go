package events

import (
	"context"
	"time"
)

// Event types published by the pipeline.
const (
	TypeLog             = "log"
	TypeToolCalled      = "tool.called"
	TypeToolCompleted   = "tool.completed"
	TypeToolFailed      = "tool.failed"
	TypeAgentTransition = "agent.transition"
	TypeModelUsage      = "model.usage"
	TypeCacheAnnotated  = "prompt.cache"
	TypeSessionEvicted  = "session.evicted"
	TypeChatCompleted   = "chat.completed"
	TypeChatFailed      = "chat.failed"
	TypeConnected       = "stream.connected"
)

// Levels mirror zerolog's names plus "success" for positive confirmations.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarn    = "warn"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Event is one observability record.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	SessionID string         `json:"sessionId,omitempty"`
	TraceID   string         `json:"traceId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Emitter accepts events. Implementations must not block on slow consumers.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Recorder keeps events in memory; tests use it to assert on emissions.
type Recorder struct {
	events chan Event
}

// NewRecorder returns a Recorder holding up to capacity events.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{events: make(chan Event, capacity)}
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	select {
	case r.events <- ev:
	default:
	}
}

// Events drains and returns everything recorded so far.
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case ev := <-r.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// OfType filters events by type.
func OfType(evs []Event, typ string) []Event {
	var out []Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
