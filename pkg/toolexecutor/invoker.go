package toolexecutor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/events"
)

// Config holds invoker dependencies
type Config struct {
	Registry Registry
	Emitter  events.Emitter
	Logger   zerolog.Logger
	// Timeout bounds a single capability call. Zero means no limit.
	Timeout time.Duration
}

type entry struct {
	capability Capability
	schema     *gojsonschema.Schema
}

// Invoker dispatches tool calls against a capability table resolved once at
// construction.
type Invoker struct {
	table   map[string]entry
	specs   []ToolSpec
	emitter events.Emitter
	logger  zerolog.Logger
	timeout time.Duration
}

// NewInvoker queries the registry once. Any registry failure is logged and
// leaves the table empty, so every later call fails with
// ErrCapabilityNotFound instead of startup failing.
func NewInvoker(ctx context.Context, cfg Config) *Invoker {
	observability.EnsureRegistered()

	inv := &Invoker{
		table:   make(map[string]entry),
		emitter: cfg.Emitter,
		logger:  cfg.Logger.With().Str("component", "toolexecutor").Logger(),
		timeout: cfg.Timeout,
	}
	if inv.emitter == nil {
		inv.emitter = events.Nop{}
	}

	if cfg.Registry == nil {
		inv.logger.Info().Msg("No capability registry configured, running without tools")
		return inv
	}

	caps, err := cfg.Registry.Capabilities(ctx)
	if err != nil {
		inv.logger.Warn().Err(err).Msg("Failed to load capabilities, continuing with an empty table")
		return inv
	}

	for _, c := range caps {
		if err := inv.register(c); err != nil {
			inv.logger.Warn().Err(err).Str("tool", c.Spec.Name).Msg("Skipping capability")
		}
	}
	sort.Slice(inv.specs, func(i, j int) bool { return inv.specs[i].Name < inv.specs[j].Name })

	inv.logger.Info().Int("count", len(inv.table)).Strs("tools", inv.Names()).Msg("Capabilities loaded")
	return inv
}

func (inv *Invoker) register(c Capability) error {
	if c.Spec.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	if c.Handler == nil {
		return fmt.Errorf("capability %s has no handler", c.Spec.Name)
	}
	if _, dup := inv.table[c.Spec.Name]; dup {
		return fmt.Errorf("duplicate capability %s", c.Spec.Name)
	}

	var schema *gojsonschema.Schema
	if len(c.Spec.InputSchema) > 0 {
		s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(c.Spec.InputSchema))
		if err != nil {
			return fmt.Errorf("failed to compile schema: %w", err)
		}
		schema = s
	}

	inv.table[c.Spec.Name] = entry{capability: c, schema: schema}
	inv.specs = append(inv.specs, c.Spec)
	return nil
}

// Definitions returns the specs bound to the model, sorted by name.
func (inv *Invoker) Definitions() []ToolSpec {
	out := make([]ToolSpec, len(inv.specs))
	copy(out, inv.specs)
	return out
}

// Names returns the sorted capability names.
func (inv *Invoker) Names() []string {
	names := make([]string, 0, len(inv.specs))
	for _, s := range inv.specs {
		names = append(names, s.Name)
	}
	return names
}

// Len reports the table size.
func (inv *Invoker) Len() int {
	return len(inv.table)
}

// Call invokes the named capability. Failures are emitted and logged, then
// returned unchanged in meaning.
func (inv *Invoker) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}

	ctx, span := tracing.StartSpan(ctx, "parley.toolexecutor", "tool.call", attribute.String("tool", name))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, inv.logger).With().Str("tool", name).Logger()

	inv.emitter.Emit(ctx, events.Event{
		Type:    events.TypeToolCalled,
		Message: fmt.Sprintf("Tool %s called", name),
		Data:    map[string]any{"tool": name, "input": args},
	})
	logger.Info().Interface("input", args).Msg("Tool called")

	start := time.Now()
	result, err := inv.call(ctx, name, args)
	duration := time.Since(start)
	observability.RecordToolExecution(name, duration, err == nil)

	if err != nil {
		tracing.FailSpan(span, err)
		inv.emitter.Emit(ctx, events.Event{
			Type:    events.TypeToolFailed,
			Level:   events.LevelError,
			Message: fmt.Sprintf("Tool %s failed: %s", name, err.Error()),
			Data:    map[string]any{"tool": name, "input": args, "error": err.Error()},
		})
		logger.Error().Err(err).Dur("duration", duration).Msg("Tool failed")
		return "", err
	}

	inv.emitter.Emit(ctx, events.Event{
		Type:    events.TypeToolCompleted,
		Level:   events.LevelSuccess,
		Message: fmt.Sprintf("Tool %s returned", name),
		Data:    map[string]any{"tool": name, "input": args, "result": result},
	})
	logger.Info().Dur("duration", duration).Int("result_bytes", len(result)).Msg("Tool returned")
	return result, nil
}

func (inv *Invoker) call(ctx context.Context, name string, args map[string]any) (string, error) {
	e, ok := inv.table[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrCapabilityNotFound, name)
	}

	if e.schema != nil {
		if err := validateArguments(e.schema, args); err != nil {
			return "", err
		}
	}

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	result, err := e.capability.Handler(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %s failed: %w", name, err)
	}
	return result, nil
}

func validateArguments(schema *gojsonschema.Schema, args map[string]any) error {
	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
}
