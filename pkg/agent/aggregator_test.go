package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_Incremental(t *testing.T) {
	t.Run("should forward chunks in order before done", func(t *testing.T) {
		sink := &recordingSink{}
		agg := NewAggregator(ModeIncremental, sink, "")

		require.NoError(t, agg.Consume(textDelta("Hel")))
		require.NoError(t, agg.Consume(textDelta("lo")))
		res, err := agg.Finish()
		require.NoError(t, err)

		assert.Equal(t, "Hello", res.Text)
		assert.False(t, res.UsedFallback)
		assert.Equal(t, []string{"chunk:Hel", "chunk:lo", "done:Hello"}, sink.events)
	})

	t.Run("should send the fallback as a chunk when nothing was produced", func(t *testing.T) {
		sink := &recordingSink{}
		agg := NewAggregator(ModeIncremental, sink, "nothing to say")

		require.NoError(t, agg.Consume(Delta{}))
		res, err := agg.Finish()
		require.NoError(t, err)

		assert.True(t, res.UsedFallback)
		assert.Equal(t, "nothing to say", res.Text)
		assert.Equal(t, []string{"chunk:nothing to say", "done:nothing to say"}, sink.events)
	})

	t.Run("should stop when the sink fails", func(t *testing.T) {
		agg := NewAggregator(ModeIncremental, failingSink{}, "")
		err := agg.Consume(textDelta("x"))
		assert.Error(t, err)
	})
}

func TestAggregator_Buffered(t *testing.T) {
	t.Run("should accumulate silently", func(t *testing.T) {
		sink := &recordingSink{}
		agg := NewAggregator(ModeBuffered, sink, "")

		require.NoError(t, agg.Consume(textDelta("Hel")))
		require.NoError(t, agg.Consume(textDelta("lo")))
		res, err := agg.Finish()
		require.NoError(t, err)

		assert.Equal(t, "Hello", res.Text)
		assert.Empty(t, sink.events)
	})

	t.Run("should use the default fallback", func(t *testing.T) {
		res, err := NewAggregator(ModeBuffered, nil, "").Finish()
		require.NoError(t, err)
		assert.Equal(t, DefaultFallback, res.Text)
		assert.True(t, res.UsedFallback)
	})

	t.Run("should take text from structured parts only", func(t *testing.T) {
		agg := NewAggregator(ModeBuffered, nil, "")
		require.NoError(t, agg.Consume(Delta{Content: NewPartsContent(
			Part{Type: "text", Text: "a"},
			Part{Type: "tool_use"},
			Part{Type: "text", Text: "b"},
		)}))
		res, err := agg.Finish()
		require.NoError(t, err)
		assert.Equal(t, "ab", res.Text)
	})
}

func TestAggregator_ToolCallFragments(t *testing.T) {
	agg := NewAggregator(ModeBuffered, nil, "")

	deltas := []Delta{
		{ToolCall: &ToolCallFragment{ID: "call_1", Name: "lookup"}},
		{ToolCall: &ToolCallFragment{ID: "call_2", Name: "search", Arguments: `{"q":`}},
		{ToolCall: &ToolCallFragment{ID: "call_1", Arguments: `{"key":"a"`}},
		{ToolCall: &ToolCallFragment{ID: "call_2", Arguments: `"go"}`}},
		{ToolCall: &ToolCallFragment{ID: "call_1", Arguments: `}`}},
	}
	for _, d := range deltas {
		require.NoError(t, agg.Consume(d))
	}

	res, err := agg.Finish()
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "lookup", Arguments: map[string]any{"key": "a"}}, res.ToolCalls[0])
	assert.Equal(t, ToolCall{ID: "call_2", Name: "search", Arguments: map[string]any{"q": "go"}}, res.ToolCalls[1])
}

func TestAggregator_MalformedToolArguments(t *testing.T) {
	agg := NewAggregator(ModeBuffered, nil, "")
	require.NoError(t, agg.Consume(Delta{ToolCall: &ToolCallFragment{ID: "c", Name: "x", Arguments: "{oops"}}))
	_, err := agg.Finish()
	assert.Error(t, err)
}

type failingSink struct{}

func (failingSink) Chunk(string) error { return errors.New("client went away") }
func (failingSink) Done(string) error  { return errors.New("client went away") }
