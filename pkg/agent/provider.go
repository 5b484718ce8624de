package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/parley/pkg/toolexecutor"
)

// Model is a streaming language model.
type Model interface {
	// Stream starts one model call. Errors surfaced while streaming are
	// reported by Stream.Err.
	Stream(ctx context.Context, prompt Prompt) (Stream, error)

	// Provider returns the provider name
	Provider() string
}

// Stream is a pull-based sequence of deltas. The producer only advances
// when Next is called, so a slow consumer throttles the model connection.
type Stream interface {
	Next() bool
	Current() Delta
	Err() error
	// Turn returns the finalized turn once Next has returned false.
	Turn() (Turn, error)
	Close() error
}

// Prompt is everything a model needs for one call.
type Prompt struct {
	// System is the instructional prefix.
	System string
	// CacheSystem asks the provider to cache the prefix.
	CacheSystem bool
	Messages    []Message
	Tools       []toolexecutor.ToolSpec
}

// ModelConfig configures a provider client.
type ModelConfig struct {
	Provider      string
	APIKey        string
	Model         string
	BaseURL       string
	MaxTokens     int
	Temperature   float64
	PromptCaching bool
}

// NewModel creates the provider selected by cfg.Provider.
func NewModel(cfg ModelConfig) (Model, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicModel(cfg), nil
	case "openai":
		return NewOpenAIModel(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// turnBuilder assembles a Turn from streamed text and tool-call fragments.
type turnBuilder struct {
	text  strings.Builder
	calls toolCallAssembler
}

func (b *turnBuilder) build(usage Usage, stopReason string) (Turn, error) {
	calls, err := b.calls.finish()
	if err != nil {
		return Turn{}, err
	}
	return Turn{
		Text:       b.text.String(),
		ToolCalls:  calls,
		Usage:      usage,
		StopReason: stopReason,
	}, nil
}

// toolCallAssembler joins fragments into tool calls, keyed by call id and
// kept in first-seen order.
type toolCallAssembler struct {
	order []string
	byID  map[string]*pendingCall
}

type pendingCall struct {
	name string
	args strings.Builder
}

func (a *toolCallAssembler) add(f ToolCallFragment) {
	if f.ID == "" {
		return
	}
	if a.byID == nil {
		a.byID = make(map[string]*pendingCall)
	}
	pc, ok := a.byID[f.ID]
	if !ok {
		pc = &pendingCall{}
		a.byID[f.ID] = pc
		a.order = append(a.order, f.ID)
	}
	if f.Name != "" {
		pc.name = f.Name
	}
	pc.args.WriteString(f.Arguments)
}

func (a *toolCallAssembler) len() int {
	return len(a.order)
}

// finish decodes the collected argument JSON. An empty argument string
// yields an empty map.
func (a *toolCallAssembler) finish() ([]ToolCall, error) {
	if len(a.order) == 0 {
		return nil, nil
	}
	calls := make([]ToolCall, 0, len(a.order))
	for _, id := range a.order {
		pc := a.byID[id]
		args := map[string]any{}
		if raw := strings.TrimSpace(pc.args.String()); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("failed to parse arguments for tool %s: %w", pc.name, err)
			}
			if args == nil {
				args = map[string]any{}
			}
		}
		calls = append(calls, ToolCall{ID: id, Name: pc.name, Arguments: args})
	}
	return calls, nil
}
