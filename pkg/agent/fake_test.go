package agent

import (
	"context"
	"sync"

	"github.com/harun/parley/pkg/toolexecutor"
)

// scriptedCall is one model call: deltas to stream, then either an error
// after those deltas or the final turn.
type scriptedCall struct {
	deltas   []Delta
	turn     Turn
	err      error
	startErr error
}

type fakeModel struct {
	mu      sync.Mutex
	script  []scriptedCall
	prompts []Prompt
}

func newFakeModel(calls ...scriptedCall) *fakeModel {
	return &fakeModel{script: calls}
}

func (m *fakeModel) Provider() string { return "fake" }

func (m *fakeModel) Stream(_ context.Context, p Prompt) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.Messages = CloneMessages(p.Messages)
	m.prompts = append(m.prompts, p)

	if len(m.script) == 0 {
		return &fakeStream{turn: Turn{}}, nil
	}
	call := m.script[0]
	m.script = m.script[1:]
	if call.startErr != nil {
		return nil, call.startErr
	}
	return &fakeStream{deltas: call.deltas, turn: call.turn, err: call.err}, nil
}

func (m *fakeModel) calls() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Prompt(nil), m.prompts...)
}

type fakeStream struct {
	deltas  []Delta
	pos     int
	current Delta
	turn    Turn
	err     error
	closed  bool
}

func (s *fakeStream) Next() bool {
	if s.pos >= len(s.deltas) {
		return false
	}
	s.current = s.deltas[s.pos]
	s.pos++
	return true
}

func (s *fakeStream) Current() Delta { return s.current }

func (s *fakeStream) Err() error {
	if s.pos >= len(s.deltas) {
		return s.err
	}
	return nil
}

func (s *fakeStream) Turn() (Turn, error) { return s.turn, nil }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func textDelta(s string) Delta {
	return Delta{Content: NewTextContent(s)}
}

type fakeTools struct {
	mu      sync.Mutex
	results map[string]string
	errs    map[string]error
	calls   []ToolCall
}

func (f *fakeTools) Call(_ context.Context, name string, args map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ToolCall{Name: name, Arguments: args})
	if err, ok := f.errs[name]; ok {
		return "", err
	}
	return f.results[name], nil
}

func (f *fakeTools) Definitions() []toolexecutor.ToolSpec {
	return []toolexecutor.ToolSpec{{Name: "lookup", Description: "Looks things up"}}
}

type recordingSink struct {
	chunks []string
	done   []string
	events []string
}

func (s *recordingSink) Chunk(text string) error {
	s.chunks = append(s.chunks, text)
	s.events = append(s.events, "chunk:"+text)
	return nil
}

func (s *recordingSink) Done(full string) error {
	s.done = append(s.done, full)
	s.events = append(s.events, "done:"+full)
	return nil
}
