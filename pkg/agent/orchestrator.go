package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/events"
	"github.com/harun/parley/pkg/toolexecutor"
)

// ErrToolLoopExceeded is returned when a run needs more model calls than
// MaxIterations allows.
var ErrToolLoopExceeded = errors.New("tool loop exceeded maximum iterations")

const (
	// DefaultMaxIterations bounds the number of model calls in one run.
	DefaultMaxIterations = 10
	// DefaultRetryInitialInterval is the first backoff delay.
	DefaultRetryInitialInterval = time.Second
	// DefaultRetryMaxInterval caps a single backoff delay.
	DefaultRetryMaxInterval = 30 * time.Second
)

// State is a node of the run state machine.
type State string

const (
	StateAgent State = "agent"
	StateTool  State = "tool"
	StateDone  State = "done"
)

// ToolInvoker executes the tool calls a model requests.
type ToolInvoker interface {
	Call(ctx context.Context, name string, args map[string]any) (string, error)
	Definitions() []toolexecutor.ToolSpec
}

// OrchestratorConfig holds orchestrator dependencies.
type OrchestratorConfig struct {
	Model Model
	// Tools may be nil, in which case every tool call fails.
	Tools ToolInvoker
	// Prefix renders the instructional prefix for each model call.
	Prefix  func() string
	Emitter events.Emitter
	Logger  zerolog.Logger

	MaxIterations int
	// MaxRetries is how many times a failed model call is retried. Zero
	// disables retries.
	MaxRetries           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	// Final is the assistant turn that ended the run.
	Final Message
	// Messages is the working conversation including every turn the run added.
	Messages []Message
	// Visits lists the states in the order they were entered.
	Visits []State
	Usage  Usage
}

// Orchestrator drives the agent and tool loop for one conversation turn.
type Orchestrator struct {
	model   Model
	tools   ToolInvoker
	prefix  func() string
	emitter events.Emitter
	logger  zerolog.Logger

	maxIterations   int
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	observability.EnsureRegistered()

	o := &Orchestrator{
		model:           cfg.Model,
		tools:           cfg.Tools,
		prefix:          cfg.Prefix,
		emitter:         cfg.Emitter,
		logger:          cfg.Logger.With().Str("component", "orchestrator").Logger(),
		maxIterations:   cfg.MaxIterations,
		maxRetries:      cfg.MaxRetries,
		initialInterval: cfg.RetryInitialInterval,
		maxInterval:     cfg.RetryMaxInterval,
	}
	if o.emitter == nil {
		o.emitter = events.Nop{}
	}
	if o.maxIterations <= 0 {
		o.maxIterations = DefaultMaxIterations
	}
	if o.maxRetries < 0 {
		o.maxRetries = 0
	}
	if o.initialInterval <= 0 {
		o.initialInterval = DefaultRetryInitialInterval
	}
	if o.maxInterval <= 0 {
		o.maxInterval = DefaultRetryMaxInterval
	}
	return o, nil
}

// Run executes the state machine over msgs. Every delta the model produces
// is passed to emit before the stream is advanced; an emit error aborts the
// run. msgs is not modified.
func (o *Orchestrator) Run(ctx context.Context, msgs []Message, emit func(Delta) error) (*RunResult, error) {
	if emit == nil {
		emit = func(Delta) error { return nil }
	}

	ctx, span := tracing.StartSpan(ctx, "parley.agent", "agent.run",
		attribute.String("provider", o.model.Provider()),
		attribute.Int("messages", len(msgs)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	start := time.Now()
	res, err := o.run(ctx, logger, msgs, emit)
	iterations := 0
	if res != nil {
		iterations = countVisits(res.Visits, StateAgent)
	}
	observability.RecordAgentRun(o.model.Provider(), time.Since(start), iterations, err == nil)

	if err != nil {
		tracing.FailSpan(span, err)
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Agent run failed")
		return nil, err
	}

	logger.Info().
		Int("iterations", iterations).
		Int64("input_tokens", res.Usage.InputTokens).
		Int64("output_tokens", res.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("Agent run completed")
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, logger zerolog.Logger, msgs []Message, emit func(Delta) error) (*RunResult, error) {
	res := &RunResult{Messages: CloneMessages(msgs)}
	state := StateAgent
	var pending Turn

	for {
		res.Visits = append(res.Visits, state)

		switch state {
		case StateAgent:
			visit := countVisits(res.Visits, StateAgent)
			if visit > o.maxIterations {
				return res, fmt.Errorf("%w (%d)", ErrToolLoopExceeded, o.maxIterations)
			}

			turn, err := o.callModel(ctx, logger, res.Messages, emit)
			if err != nil {
				return res, err
			}
			res.Usage.Add(turn.Usage)
			o.reportUsage(ctx, logger, turn.Usage)

			if len(turn.ToolCalls) > 0 {
				pending = turn
				state = o.transition(ctx, logger, StateAgent, StateTool, visit)
				continue
			}
			res.Final = turn.Message()
			res.Messages = append(res.Messages, res.Final)
			state = o.transition(ctx, logger, StateAgent, StateDone, visit)

		case StateTool:
			results, err := o.invokeTools(ctx, pending.ToolCalls)
			if err != nil {
				return res, err
			}
			res.Messages = append(res.Messages, pending.Message())
			res.Messages = append(res.Messages, results...)
			pending = Turn{}
			state = o.transition(ctx, logger, StateTool, StateAgent, 0)

		case StateDone:
			return res, nil
		}
	}
}

func (o *Orchestrator) invokeTools(ctx context.Context, calls []ToolCall) ([]Message, error) {
	out := make([]Message, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if o.tools == nil {
			return nil, fmt.Errorf("%w: %s", toolexecutor.ErrCapabilityNotFound, call.Name)
		}
		result, err := o.tools.Call(ctx, call.Name, call.Arguments)
		if err != nil {
			return nil, err
		}
		out = append(out, ToolResultMessage(call.ID, result))
	}
	return out, nil
}

func (o *Orchestrator) prompt(msgs []Message) Prompt {
	p := Prompt{Messages: msgs}
	if o.prefix != nil {
		p.System = o.prefix()
		p.CacheSystem = p.System != ""
	}
	if o.tools != nil {
		p.Tools = o.tools.Definitions()
	}
	return p
}

// callModel performs one Agent visit. Transient failures are retried with
// jittered exponential backoff, but only while nothing of this visit has
// been forwarded.
func (o *Orchestrator) callModel(ctx context.Context, logger zerolog.Logger, msgs []Message, emit func(Delta) error) (Turn, error) {
	retry := o.newRetryBackoff(ctx)
	attempt := 0

	for {
		turn, forwarded, err := o.streamOnce(ctx, o.prompt(msgs), emit)
		if err == nil {
			return turn, nil
		}
		if forwarded || ctx.Err() != nil || !IsRetryableError(err) {
			return Turn{}, err
		}

		next := retry.NextBackOff()
		if next == backoff.Stop {
			return Turn{}, fmt.Errorf("model call failed after %d retries: %w", attempt, err)
		}
		attempt++
		observability.RecordModelRetry(o.model.Provider())
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", next).
			Msg("Retrying model call after transient error")

		select {
		case <-ctx.Done():
			return Turn{}, ctx.Err()
		case <-time.After(next):
		}
	}
}

func (o *Orchestrator) streamOnce(ctx context.Context, p Prompt, emit func(Delta) error) (Turn, bool, error) {
	stream, err := o.model.Stream(ctx, p)
	if err != nil {
		return Turn{}, false, err
	}
	defer stream.Close()

	forwarded := false
	for stream.Next() {
		d := stream.Current()
		forwarded = true
		if err := emit(d); err != nil {
			return Turn{}, true, err
		}
	}
	if err := stream.Err(); err != nil {
		return Turn{}, forwarded, err
	}

	turn, err := stream.Turn()
	if err != nil {
		return Turn{}, forwarded, err
	}
	return turn, forwarded, nil
}

func (o *Orchestrator) newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.initialInterval
	b.MaxInterval = o.maxInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.maxRetries)), ctx)
}

func (o *Orchestrator) transition(ctx context.Context, logger zerolog.Logger, from, to State, visit int) State {
	logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("State transition")
	o.emitter.Emit(ctx, events.Event{
		Type:    events.TypeAgentTransition,
		Level:   events.LevelDebug,
		Message: fmt.Sprintf("%s -> %s", from, to),
		Data:    map[string]any{"from": string(from), "to": string(to), "visit": visit},
	})
	return to
}

func (o *Orchestrator) reportUsage(ctx context.Context, logger zerolog.Logger, u Usage) {
	provider := o.model.Provider()
	observability.RecordTokenUsage(provider, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)

	logger.Info().
		Str("provider", provider).
		Int64("input_tokens", u.InputTokens).
		Int64("output_tokens", u.OutputTokens).
		Int64("cache_creation_input_tokens", u.CacheCreationInputTokens).
		Int64("cache_read_input_tokens", u.CacheReadInputTokens).
		Msg("Token usage")

	o.emitter.Emit(ctx, events.Event{
		Type:    events.TypeModelUsage,
		Message: fmt.Sprintf("%d tokens used", u.Total()),
		Data: map[string]any{
			"provider":                    provider,
			"input_tokens":                u.InputTokens,
			"output_tokens":               u.OutputTokens,
			"cache_creation_input_tokens": u.CacheCreationInputTokens,
			"cache_read_input_tokens":     u.CacheReadInputTokens,
		},
	})
}

func countVisits(visits []State, s State) int {
	n := 0
	for _, v := range visits {
		if v == s {
			n++
		}
	}
	return n
}
