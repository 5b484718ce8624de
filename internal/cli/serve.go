package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/parley/internal/config"
	"github.com/harun/parley/internal/logger"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/agent"
	"github.com/harun/parley/pkg/chat"
	"github.com/harun/parley/pkg/events"
	"github.com/harun/parley/pkg/gateway"
	"github.com/harun/parley/pkg/prompt"
	"github.com/harun/parley/pkg/session"
	"github.com/harun/parley/pkg/toolexecutor"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the chat HTTP server in the foreground.
The server shuts down gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	hub := events.NewHub(events.HubConfig{})
	defer hub.Close()

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	}, hub.LogWriter())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()
	log := lg.Component("serve")

	for _, warning := range config.NewValidator().ValidateConfig(cfg) {
		log.Warn().Err(warning).Msg("Configuration warning")
	}
	logEnvironment(log, environmentReport(cfg))

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := buildServer(ctx, cfg, hub, lg.Zerolog())
	if err != nil {
		return err
	}
	defer cleanup()

	if err := srv.Start(); err != nil {
		return err
	}
	log.Info().
		Str("addr", srv.Addr()).
		Str("provider", cfg.Model.Provider).
		Str("model", cfg.Model.Name).
		Msg("Parley is ready")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildServer wires every component behind the HTTP server. cleanup stops
// the background workers in reverse start order.
func buildServer(ctx context.Context, cfg *config.Config, hub *events.Hub, log zerolog.Logger) (*gateway.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*gateway.Server, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	prompts, err := prompt.New(prompt.Config{
		File:     cfg.Agent.PromptFile,
		Timezone: cfg.Agent.Timezone,
		Logger:   log,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to load prompt: %w", err))
	}
	closers = append(closers, func() { _ = prompts.Close() })
	if err := prompts.Watch(); err != nil {
		log.Warn().Err(err).Msg("Prompt hot reload disabled")
	}

	model, err := agent.NewModel(agent.ModelConfig{
		Provider:      cfg.Model.Provider,
		APIKey:        cfg.Model.APIKey,
		Model:         cfg.Model.Name,
		BaseURL:       cfg.Model.BaseURL,
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   cfg.Model.Temperature,
		PromptCaching: cfg.Model.PromptCaching,
	})
	if err != nil {
		return fail(err)
	}

	var registry toolexecutor.Registry
	if cfg.Tools.Endpoint != "" {
		mcp := toolexecutor.NewMCPRegistry(toolexecutor.MCPConfig{
			Endpoint:  cfg.Tools.Endpoint,
			APIKey:    cfg.Tools.APIKey,
			Transport: cfg.Tools.Transport,
			Timeout:   cfg.Tools.ConnectTimeout,
			Logger:    log,
			Version:   version,
		})
		closers = append(closers, func() { _ = mcp.Close() })
		registry = mcp
	}
	tools := toolexecutor.NewInvoker(ctx, toolexecutor.Config{
		Registry: registry,
		Emitter:  hub,
		Logger:   log,
		Timeout:  cfg.Tools.CallTimeout,
	})
	log.Info().Int("count", tools.Len()).Strs("tools", tools.Names()).Msg("Capability table ready")

	store := session.New(session.Config{
		MaxHistory:  cfg.Session.MaxHistory,
		IdleTimeout: cfg.Session.IdleTimeout,
		Logger:      log,
		Emitter:     hub,
	})
	sweeper := session.NewSweeper(store, cfg.Session.SweepInterval, log)
	if err := sweeper.Start(); err != nil {
		return fail(err)
	}
	closers = append(closers, func() {
		if sweeper.Running() {
			_ = sweeper.Stop()
		}
	})

	orch, err := agent.NewOrchestrator(agent.OrchestratorConfig{
		Model:         model,
		Tools:         tools,
		Prefix:        prompts.Render,
		Emitter:       hub,
		Logger:        log,
		MaxIterations: cfg.Agent.MaxIterations,
		MaxRetries:    cfg.Model.MaxRetries,
	})
	if err != nil {
		return fail(err)
	}

	svc, err := chat.NewService(chat.Config{
		Store:    store,
		Runner:   orch,
		Trimmer:  agent.NewTrimmer(cfg.Agent.TrimBudget),
		Cache:    agent.NewCacheAnnotator(cfg.Agent.CacheBudget),
		Fallback: cfg.Agent.Fallback,
		Emitter:  hub,
		Logger:   log,
	})
	if err != nil {
		return fail(err)
	}

	srv, err := gateway.NewServer(gateway.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		PublicDir:       cfg.Server.PublicDir,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Chat:            svc,
		Hub:             hub,
		Logger:          log,
	})
	if err != nil {
		return fail(err)
	}
	return srv, cleanup, nil
}

// envStatus is one line of the startup environment report.
type envStatus struct {
	Name  string
	Set   bool
	Value string // shown only for non-secret settings
}

func environmentReport(cfg *config.Config) []envStatus {
	keyName := strings.ToUpper(cfg.Model.Provider) + "_API_KEY"
	return []envStatus{
		{Name: keyName, Set: cfg.Model.APIKey != ""},
		{Name: "TOOLS_ENDPOINT", Set: cfg.Tools.Endpoint != "", Value: cfg.Tools.Endpoint},
		{Name: "TOOLS_API_KEY", Set: cfg.Tools.APIKey != ""},
	}
}

func logEnvironment(log zerolog.Logger, report []envStatus) {
	for _, e := range report {
		var evt *zerolog.Event
		if e.Set {
			evt = log.Info()
		} else {
			evt = log.Warn()
		}
		evt = evt.Str("name", e.Name).Bool("set", e.Set)
		if e.Value != "" {
			evt = evt.Str("value", e.Value)
		}
		evt.Msg("Environment check")
	}
}
