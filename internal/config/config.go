package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main parley configuration
type Config struct {
	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Model   ModelConfig   `json:"model" mapstructure:"model"`
	Session SessionConfig `json:"session" mapstructure:"session"`
	Agent   AgentConfig   `json:"agent" mapstructure:"agent"`
	Tools   ToolsConfig   `json:"tools" mapstructure:"tools"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP transport settings
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	PublicDir       string        `json:"public_dir" mapstructure:"public_dir"`
	CORSOrigins     []string      `json:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ModelConfig selects and tunes the language model provider
type ModelConfig struct {
	Provider      string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Name          string  `json:"name" mapstructure:"name"`
	APIKey        string  `json:"api_key" mapstructure:"api_key"`
	BaseURL       string  `json:"base_url" mapstructure:"base_url"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
	PromptCaching bool    `json:"prompt_caching" mapstructure:"prompt_caching"`
	MaxRetries    int     `json:"max_retries" mapstructure:"max_retries"`
}

// SessionConfig bounds the in-memory conversation store
type SessionConfig struct {
	MaxHistory    int           `json:"max_history" mapstructure:"max_history"`
	IdleTimeout   time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// AgentConfig tunes prompt assembly and the agent/tool loop
type AgentConfig struct {
	TrimBudget    int    `json:"trim_budget" mapstructure:"trim_budget"`
	CacheBudget   int    `json:"cache_budget" mapstructure:"cache_budget"`
	MaxIterations int    `json:"max_iterations" mapstructure:"max_iterations"`
	Fallback      string `json:"fallback" mapstructure:"fallback"`
	PromptFile    string `json:"prompt_file" mapstructure:"prompt_file"`
	Timezone      string `json:"timezone" mapstructure:"timezone"`
}

// ToolsConfig points at the remote capability registry (an MCP server).
// An empty endpoint means the agent runs without tools.
type ToolsConfig struct {
	Endpoint  string        `json:"endpoint" mapstructure:"endpoint"`
	APIKey    string        `json:"api_key" mapstructure:"api_key"`
	Transport string        `json:"transport" mapstructure:"transport"` // streamable, sse
	// ConnectTimeout bounds connecting to the registry and listing its tools.
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	// CallTimeout bounds a single tool call. Zero means no limit.
	CallTimeout time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			PublicDir:       "public",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Model: ModelConfig{
			Provider:      "anthropic",
			Name:          "claude-3-5-sonnet-latest",
			MaxTokens:     8192,
			Temperature:   0,
			PromptCaching: true,
			MaxRetries:    3,
		},
		Session: SessionConfig{
			MaxHistory:    20,
			IdleTimeout:   24 * time.Hour,
			SweepInterval: 30 * time.Minute,
		},
		Agent: AgentConfig{
			TrimBudget:    15,
			CacheBudget:   3,
			MaxIterations: 10,
			Fallback:      "I could not generate a response. Please try again.",
			Timezone:      "Europe/Copenhagen",
		},
		Tools: ToolsConfig{
			Transport:      "streamable",
			ConnectTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "parley",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Model.APIKey = maskSecret(c.Model.APIKey)
	masked.Tools.APIKey = maskSecret(c.Tools.APIKey)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("invalid model provider %q (must be: anthropic, openai)", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("no API key configured for provider %s", c.Model.Provider)
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model max_tokens must be positive")
	}
	if c.Model.MaxRetries < 0 {
		return fmt.Errorf("model max_retries cannot be negative")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}

	if c.Session.MaxHistory < 1 {
		return fmt.Errorf("session max_history must be at least 1")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session idle_timeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session sweep_interval must be positive")
	}

	if c.Agent.TrimBudget < 1 {
		return fmt.Errorf("agent trim_budget must be at least 1")
	}
	if c.Agent.CacheBudget < 1 {
		return fmt.Errorf("agent cache_budget must be at least 1")
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent max_iterations must be at least 1")
	}
	if c.Agent.Fallback == "" {
		return fmt.Errorf("agent fallback text is required")
	}

	if c.Tools.Endpoint != "" {
		switch c.Tools.Transport {
		case "streamable", "sse":
		default:
			return fmt.Errorf("invalid tools transport %q (must be: streamable, sse)", c.Tools.Transport)
		}
	}
	if c.Tools.ConnectTimeout <= 0 {
		return fmt.Errorf("tools connect_timeout must be positive")
	}
	if c.Tools.CallTimeout < 0 {
		return fmt.Errorf("tools call_timeout cannot be negative")
	}

	return nil
}
