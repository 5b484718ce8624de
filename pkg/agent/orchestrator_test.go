package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/parley/pkg/events"
	"github.com/harun/parley/pkg/toolexecutor"
)

const testMaxRetries = 3

func newTestOrchestrator(t *testing.T, model Model, tools ToolInvoker, rec events.Emitter, maxIterations int) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(OrchestratorConfig{
		Model:                model,
		Tools:                tools,
		Prefix:               func() string { return "You are helpful." },
		Emitter:              rec,
		Logger:               zerolog.Nop(),
		MaxIterations:        maxIterations,
		MaxRetries:           testMaxRetries,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	return o
}

func toolTurn(id, name string, args map[string]any) scriptedCall {
	return scriptedCall{
		deltas: []Delta{{ToolCall: &ToolCallFragment{ID: id, Name: name}}},
		turn: Turn{
			ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: args}},
			Usage:     Usage{InputTokens: 10, OutputTokens: 2},
		},
	}
}

func TestNewOrchestrator_RequiresModel(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorConfig{})
	assert.Error(t, err)
}

func TestOrchestrator_ToolRoundTrip(t *testing.T) {
	model := newFakeModel(
		toolTurn("call_1", "lookup", map[string]any{"key": "answer"}),
		scriptedCall{
			deltas: []Delta{textDelta("Hel"), textDelta("lo")},
			turn:   Turn{Text: "Hello", Usage: Usage{InputTokens: 20, OutputTokens: 3, CacheReadInputTokens: 15}},
		},
	)
	tools := &fakeTools{results: map[string]string{"lookup": "42"}}
	rec := events.NewRecorder(64)
	orch := newTestOrchestrator(t, model, tools, rec, 0)

	sink := &recordingSink{}
	agg := NewAggregator(ModeIncremental, sink, "")
	input := []Message{UserMessage("what is the answer?")}

	res, err := orch.Run(context.Background(), input, agg.Consume)
	require.NoError(t, err)
	out, err := agg.Finish()
	require.NoError(t, err)

	assert.Equal(t, []State{StateAgent, StateTool, StateAgent, StateDone}, res.Visits)
	assert.Equal(t, "Hello", res.Final.Content.String())
	assert.Equal(t, RoleAssistant, res.Final.Role)
	assert.Equal(t, "Hello", out.Text)
	assert.Equal(t, []string{"chunk:Hel", "chunk:lo", "done:Hello"}, sink.events)
	assert.Equal(t, Usage{InputTokens: 30, OutputTokens: 5, CacheReadInputTokens: 15}, res.Usage)

	require.Len(t, tools.calls, 1)
	assert.Equal(t, "lookup", tools.calls[0].Name)
	assert.Equal(t, map[string]any{"key": "answer"}, tools.calls[0].Arguments)

	prompts := model.calls()
	require.Len(t, prompts, 2)
	assert.Equal(t, "You are helpful.", prompts[0].System)
	assert.True(t, prompts[0].CacheSystem)
	require.Len(t, prompts[0].Tools, 1)
	assert.Len(t, prompts[0].Messages, 1)

	second := prompts[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, RoleAssistant, second[1].Role)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, "call_1", second[1].ToolCalls[0].ID)
	assert.Equal(t, RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.Equal(t, "42", second[2].Content.String())

	assert.Len(t, res.Messages, 4)
	assert.Len(t, input, 1)

	evs := rec.Events()
	transitions := events.OfType(evs, events.TypeAgentTransition)
	require.Len(t, transitions, 3)
	assert.Equal(t, "agent", transitions[0].Data["from"])
	assert.Equal(t, "tool", transitions[0].Data["to"])
	assert.Equal(t, "done", transitions[2].Data["to"])
	assert.Len(t, events.OfType(evs, events.TypeModelUsage), 2)
}

func TestOrchestrator_ToolResultsInCallOrder(t *testing.T) {
	model := newFakeModel(
		scriptedCall{turn: Turn{ToolCalls: []ToolCall{
			{ID: "b", Name: "second", Arguments: map[string]any{}},
			{ID: "a", Name: "first", Arguments: map[string]any{}},
		}}},
		scriptedCall{deltas: []Delta{textDelta("ok")}, turn: Turn{Text: "ok"}},
	)
	tools := &fakeTools{results: map[string]string{"first": "1", "second": "2"}}
	orch := newTestOrchestrator(t, model, tools, nil, 0)

	res, err := orch.Run(context.Background(), []Message{UserMessage("go")}, nil)
	require.NoError(t, err)

	require.Len(t, tools.calls, 2)
	assert.Equal(t, "second", tools.calls[0].Name)
	assert.Equal(t, "first", tools.calls[1].Name)

	msgs := res.Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, "b", msgs[2].ToolCallID)
	assert.Equal(t, "2", msgs[2].Content.String())
	assert.Equal(t, "a", msgs[3].ToolCallID)
	assert.Equal(t, "1", msgs[3].Content.String())
}

func TestOrchestrator_ToolLoopExceeded(t *testing.T) {
	model := newFakeModel(
		toolTurn("c1", "lookup", nil),
		toolTurn("c2", "lookup", nil),
		toolTurn("c3", "lookup", nil),
	)
	tools := &fakeTools{results: map[string]string{"lookup": "again"}}
	orch := newTestOrchestrator(t, model, tools, nil, 2)

	_, err := orch.Run(context.Background(), []Message{UserMessage("loop")}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolLoopExceeded))
	assert.Len(t, model.calls(), 2)
}

func TestOrchestrator_ToolFailureAbortsRun(t *testing.T) {
	model := newFakeModel(toolTurn("c1", "lookup", nil))
	boom := errors.New("registry down")
	tools := &fakeTools{errs: map[string]error{"lookup": boom}}
	orch := newTestOrchestrator(t, model, tools, nil, 0)

	_, err := orch.Run(context.Background(), []Message{UserMessage("x")}, nil)
	assert.True(t, errors.Is(err, boom))
	assert.Len(t, model.calls(), 1)
}

func TestOrchestrator_NoToolsConfigured(t *testing.T) {
	model := newFakeModel(toolTurn("c1", "lookup", nil))
	orch := newTestOrchestrator(t, model, nil, nil, 0)

	_, err := orch.Run(context.Background(), []Message{UserMessage("x")}, nil)
	assert.True(t, errors.Is(err, toolexecutor.ErrCapabilityNotFound))
}

func TestOrchestrator_Retry(t *testing.T) {
	t.Run("should retry transient failures before any output", func(t *testing.T) {
		model := newFakeModel(
			scriptedCall{startErr: errors.New("503 service unavailable")},
			scriptedCall{err: errors.New("connection reset by peer")},
			scriptedCall{deltas: []Delta{textDelta("fine")}, turn: Turn{Text: "fine"}},
		)
		orch := newTestOrchestrator(t, model, nil, nil, 0)

		res, err := orch.Run(context.Background(), []Message{UserMessage("x")}, nil)
		require.NoError(t, err)
		assert.Equal(t, "fine", res.Final.Content.String())
		assert.Len(t, model.calls(), 3)
	})

	t.Run("should not retry once output was forwarded", func(t *testing.T) {
		model := newFakeModel(
			scriptedCall{deltas: []Delta{textDelta("partial")}, err: errors.New("overloaded")},
			scriptedCall{deltas: []Delta{textDelta("again")}, turn: Turn{Text: "again"}},
		)
		orch := newTestOrchestrator(t, model, nil, nil, 0)

		var got []string
		_, err := orch.Run(context.Background(), []Message{UserMessage("x")}, func(d Delta) error {
			got = append(got, d.Content.String())
			return nil
		})
		require.Error(t, err)
		assert.Equal(t, []string{"partial"}, got)
		assert.Len(t, model.calls(), 1)
	})

	t.Run("should not retry permanent failures", func(t *testing.T) {
		model := newFakeModel(scriptedCall{startErr: errors.New("invalid request: bad model")})
		orch := newTestOrchestrator(t, model, nil, nil, 0)

		_, err := orch.Run(context.Background(), []Message{UserMessage("x")}, nil)
		require.Error(t, err)
		assert.Len(t, model.calls(), 1)
	})

	t.Run("should give up after the retry budget", func(t *testing.T) {
		transient := errors.New("429 rate limit")
		model := newFakeModel(
			scriptedCall{startErr: transient},
			scriptedCall{startErr: transient},
			scriptedCall{startErr: transient},
			scriptedCall{startErr: transient},
			scriptedCall{startErr: transient},
		)
		orch := newTestOrchestrator(t, model, nil, nil, 0)

		_, err := orch.Run(context.Background(), []Message{UserMessage("x")}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, transient))
		assert.Len(t, model.calls(), testMaxRetries+1)
	})
}

func TestOrchestrator_RetriesDisabled(t *testing.T) {
	model := newFakeModel(
		scriptedCall{startErr: errors.New("503 service unavailable")},
		scriptedCall{deltas: []Delta{textDelta("fine")}, turn: Turn{Text: "fine"}},
	)
	orch, err := NewOrchestrator(OrchestratorConfig{
		Model:      model,
		Logger:     zerolog.Nop(),
		MaxRetries: 0,
	})
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), []Message{UserMessage("x")}, nil)
	require.Error(t, err)
	assert.Len(t, model.calls(), 1)
}

func TestOrchestrator_EmitErrorAborts(t *testing.T) {
	model := newFakeModel(scriptedCall{
		deltas: []Delta{textDelta("a"), textDelta("b")},
		turn:   Turn{Text: "ab"},
	})
	orch := newTestOrchestrator(t, model, nil, nil, 0)

	gone := errors.New("client disconnected")
	calls := 0
	_, err := orch.Run(context.Background(), []Message{UserMessage("x")}, func(Delta) error {
		calls++
		return gone
	})
	assert.True(t, errors.Is(err, gone))
	assert.Equal(t, 1, calls)
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	model := newFakeModel(scriptedCall{startErr: errors.New("503 unavailable")})
	orch := newTestOrchestrator(t, model, nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Run(ctx, []Message{UserMessage("x")}, nil)
	require.Error(t, err)
	assert.Len(t, model.calls(), 1)
}
