package agent

import (
	"strings"
)

// DefaultFallback is returned when a run produces no text.
const DefaultFallback = "I could not generate a response. Please try again."

// Mode selects how the aggregator delivers output.
type Mode int

const (
	// ModeIncremental forwards every text delta to the sink as it arrives.
	ModeIncremental Mode = iota
	// ModeBuffered only accumulates; the caller reads Result.
	ModeBuffered
)

func (m Mode) String() string {
	if m == ModeBuffered {
		return "buffered"
	}
	return "incremental"
}

// Sink receives incremental output.
type Sink interface {
	Chunk(text string) error
	Done(full string) error
}

// Result is the aggregated output of a run.
type Result struct {
	Text         string
	ToolCalls    []ToolCall
	UsedFallback bool
}

// Aggregator folds a stream of deltas into a final response.
type Aggregator struct {
	mode     Mode
	sink     Sink
	fallback string

	text  strings.Builder
	calls toolCallAssembler
}

// NewAggregator creates an aggregator. sink may be nil in ModeBuffered.
// An empty fallback selects DefaultFallback.
func NewAggregator(mode Mode, sink Sink, fallback string) *Aggregator {
	if fallback == "" {
		fallback = DefaultFallback
	}
	return &Aggregator{mode: mode, sink: sink, fallback: fallback}
}

// Consume folds one delta. In incremental mode non-empty text is forwarded
// before Consume returns, so a slow sink slows the producer.
func (a *Aggregator) Consume(d Delta) error {
	if d.ToolCall != nil {
		a.calls.add(*d.ToolCall)
	}

	text := d.Content.String()
	if text == "" {
		return nil
	}
	a.text.WriteString(text)

	if a.mode == ModeIncremental && a.sink != nil {
		return a.sink.Chunk(text)
	}
	return nil
}

// Finish closes the aggregation. With no accumulated text the fallback
// becomes the response and, in incremental mode, is sent as the only chunk.
func (a *Aggregator) Finish() (Result, error) {
	calls, err := a.calls.finish()
	if err != nil {
		return Result{}, err
	}

	res := Result{Text: a.text.String(), ToolCalls: calls}
	if res.Text == "" {
		res.Text = a.fallback
		res.UsedFallback = true
	}

	if a.mode == ModeIncremental && a.sink != nil {
		if res.UsedFallback {
			if err := a.sink.Chunk(res.Text); err != nil {
				return res, err
			}
		}
		if err := a.sink.Done(res.Text); err != nil {
			return res, err
		}
	}
	return res, nil
}
