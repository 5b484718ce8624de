package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/agent"
	"github.com/harun/parley/pkg/events"
	"github.com/harun/parley/pkg/session"
)

// ErrInvalidRequest is returned for requests that cannot start a turn.
var ErrInvalidRequest = errors.New("invalid chat request")

const sessionIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// leadingArtifact matches an empty text block some providers serialize at
// the start of a reply.
var leadingArtifact = regexp.MustCompile(`^\{"index":\d+,"type":"text","text":""\}`)

// Runner executes the agent loop over a prepared prompt.
type Runner interface {
	Run(ctx context.Context, msgs []agent.Message, emit func(agent.Delta) error) (*agent.RunResult, error)
}

// Config holds service dependencies.
type Config struct {
	Store    *session.Store
	Runner   Runner
	Trimmer  agent.Trimmer
	Cache    agent.CacheAnnotator
	Fallback string
	Emitter  events.Emitter
	Logger   zerolog.Logger
}

// Request is one chat turn as submitted by a caller.
type Request struct {
	SessionID string
	Messages  []agent.Message
}

// Response is the outcome of a turn.
type Response struct {
	SessionID    string
	Text         string
	ToolCalls    []agent.ToolCall
	UsedFallback bool
	Usage        agent.Usage
}

// Service runs chat turns.
type Service struct {
	store    *session.Store
	runner   Runner
	trimmer  agent.Trimmer
	cache    agent.CacheAnnotator
	fallback string
	emitter  events.Emitter
	logger   zerolog.Logger
}

// NewService creates a chat service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	observability.EnsureRegistered()

	s := &Service{
		store:    cfg.Store,
		runner:   cfg.Runner,
		trimmer:  cfg.Trimmer,
		cache:    cfg.Cache,
		fallback: cfg.Fallback,
		emitter:  cfg.Emitter,
		logger:   cfg.Logger.With().Str("component", "chat").Logger(),
	}
	if s.trimmer.Budget <= 0 {
		s.trimmer = agent.NewTrimmer(0)
	}
	if s.cache.Budget <= 0 {
		s.cache = agent.NewCacheAnnotator(0)
	}
	if s.fallback == "" {
		s.fallback = agent.DefaultFallback
	}
	if s.emitter == nil {
		s.emitter = events.Nop{}
	}
	return s, nil
}

// NewSessionID returns an id of the form chat_<unixms>_<9 random chars>.
func NewSessionID() string {
	suffix, err := gonanoid.Generate(sessionIDAlphabet, 9)
	if err != nil {
		suffix = fmt.Sprintf("%09d", time.Now().Nanosecond())
	}
	return fmt.Sprintf("chat_%d_%s", time.Now().UnixMilli(), suffix)
}

// NewSimpleSessionID returns the id used by the single-message endpoint.
func NewSimpleSessionID() string {
	return fmt.Sprintf("simple_%d", time.Now().UnixMilli())
}

// Send runs a buffered turn.
func (s *Service) Send(ctx context.Context, req Request) (*Response, error) {
	return s.turn(ctx, req, agent.ModeBuffered, nil)
}

// Stream runs a turn that forwards text to sink as it is produced. The
// session id is fixed before any output, so callers can read it from the
// request they pass in; an empty one is generated and reported in the
// response.
func (s *Service) Stream(ctx context.Context, req Request, sink agent.Sink) (*Response, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is required for streaming", ErrInvalidRequest)
	}
	return s.turn(ctx, req, agent.ModeIncremental, sink)
}

// SimpleMessage appends a single user message to the session and returns
// the cleaned reply.
func (s *Service) SimpleMessage(ctx context.Context, sessionID, text string) (*Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if sessionID == "" {
		sessionID = NewSimpleSessionID()
	}

	return s.run(ctx, sessionID, []agent.Message{agent.UserMessage(text)}, agent.ModeBuffered, nil, cleanReply)
}

// SessionInfo describes a stored session.
func (s *Service) SessionInfo(sessionID string) session.Info {
	return s.store.Info(sessionID)
}

// Stats reports store-wide figures.
func (s *Service) Stats() session.Stats {
	return s.store.Stats()
}

func (s *Service) turn(ctx context.Context, req Request, mode agent.Mode, sink agent.Sink) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	}
	id := req.SessionID
	if id == "" {
		id = NewSessionID()
	}
	return s.run(ctx, id, req.Messages, mode, sink, nil)
}

// run executes one turn under the session lock. clean, when set, rewrites
// the reply before the fallback is applied.
func (s *Service) run(ctx context.Context, id string, incoming []agent.Message, mode agent.Mode, sink agent.Sink, clean func(string) string) (*Response, error) {
	unlock := s.store.Lock(id)
	defer unlock()

	ctx = tracing.WithSessionID(ctx, id)
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)

	combined := combine(s.store.Get(id), incoming)
	prompt, marked := s.cache.Annotate(s.trimmer.Trim(combined))
	observability.RecordCacheAnnotations(marked)
	s.emitter.Emit(ctx, events.Event{
		Type:    events.TypeCacheAnnotated,
		Level:   events.LevelDebug,
		Message: fmt.Sprintf("Added cache control to %d messages", marked),
		Data:    map[string]any{"annotated": marked, "budget": s.cache.Budget, "messages": len(prompt)},
	})

	logger.Info().
		Str("mode", mode.String()).
		Int("messages", len(combined)).
		Int("prompt_messages", len(prompt)).
		Msg("Processing chat request")

	aggMode, aggSink := mode, sink
	if clean != nil {
		// Cleaning needs the whole reply, so it only runs buffered.
		aggMode, aggSink = agent.ModeBuffered, nil
	}
	agg := agent.NewAggregator(aggMode, aggSink, s.fallback)

	result, err := s.runner.Run(ctx, prompt, agg.Consume)
	if err != nil {
		s.fail(ctx, logger, mode, err)
		return nil, err
	}

	out, finishErr := agg.Finish()
	if finishErr != nil && out.Text == "" {
		s.fail(ctx, logger, mode, finishErr)
		return nil, finishErr
	}
	if clean != nil {
		out.Text = clean(out.Text)
		if out.Text == "" {
			out.Text = s.fallback
			out.UsedFallback = true
		}
	}

	persist := make([]agent.Message, 0, 2)
	if user, ok := latestUser(combined); ok {
		persist = append(persist, user)
	}
	persist = append(persist, agent.AssistantMessage(out.Text))
	s.store.Append(id, persist...)

	resp := &Response{
		SessionID:    id,
		Text:         out.Text,
		ToolCalls:    out.ToolCalls,
		UsedFallback: out.UsedFallback,
		Usage:        result.Usage,
	}

	if out.UsedFallback {
		logger.Warn().Msg("No content received, sent fallback response")
	}
	if finishErr != nil {
		// The reply is stored, but the caller stopped listening.
		s.fail(ctx, logger, mode, finishErr)
		return resp, finishErr
	}

	observability.RecordChatRequest(mode.String(), true)
	s.emitter.Emit(ctx, events.Event{
		Type:    events.TypeChatCompleted,
		Level:   events.LevelSuccess,
		Message: "Chat request completed",
		Data: map[string]any{
			"mode":          mode.String(),
			"response_len":  len(out.Text),
			"tool_calls":    len(out.ToolCalls),
			"used_fallback": out.UsedFallback,
		},
	})
	logger.Info().
		Int("response_len", len(out.Text)).
		Int("tool_calls", len(out.ToolCalls)).
		Msg("Chat request completed")
	return resp, nil
}

func (s *Service) fail(ctx context.Context, logger zerolog.Logger, mode agent.Mode, err error) {
	observability.RecordChatRequest(mode.String(), false)
	s.emitter.Emit(ctx, events.Event{
		Type:    events.TypeChatFailed,
		Level:   events.LevelError,
		Message: err.Error(),
		Data:    map[string]any{"mode": mode.String()},
	})
	logger.Error().Err(err).Msg("Chat request failed")
}

// combine appends a lone user message to history; any other request
// carries the full conversation and replaces history for this turn.
func combine(history, incoming []agent.Message) []agent.Message {
	if len(incoming) == 1 && incoming[0].Role == agent.RoleUser {
		return append(history, incoming[0])
	}
	return agent.CloneMessages(incoming)
}

func latestUser(msgs []agent.Message) (agent.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == agent.RoleUser {
			return msgs[i].Clone(), true
		}
	}
	return agent.Message{}, false
}

func cleanReply(s string) string {
	return strings.TrimSpace(leadingArtifact.ReplaceAllString(s, ""))
}
