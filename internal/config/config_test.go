package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "sk-ant-test123"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, 8192, cfg.Model.MaxTokens)
	assert.True(t, cfg.Model.PromptCaching)
	assert.Equal(t, 20, cfg.Session.MaxHistory)
	assert.Equal(t, 24*time.Hour, cfg.Session.IdleTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, 15, cfg.Agent.TrimBudget)
	assert.Equal(t, 3, cfg.Agent.CacheBudget)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, "Europe/Copenhagen", cfg.Agent.Timezone)
	assert.NotEmpty(t, cfg.Agent.Fallback)
	assert.Equal(t, 30*time.Second, cfg.Tools.ConnectTimeout)
	assert.Zero(t, cfg.Tools.CallTimeout, "tool calls run without a deadline by default")
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing API key", func(c *Config) { c.Model.APIKey = "" }, "no API key"},
		{"unknown provider", func(c *Config) { c.Model.Provider = "gemini" }, "invalid model provider"},
		{"zero history cap", func(c *Config) { c.Session.MaxHistory = 0 }, "max_history"},
		{"zero idle timeout", func(c *Config) { c.Session.IdleTimeout = 0 }, "idle_timeout"},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "max_iterations"},
		{"empty fallback", func(c *Config) { c.Agent.Fallback = "" }, "fallback"},
		{"zero cache budget", func(c *Config) { c.Agent.CacheBudget = 0 }, "cache_budget"},
		{"zero connect timeout", func(c *Config) { c.Tools.ConnectTimeout = 0 }, "connect_timeout"},
		{"negative call timeout", func(c *Config) { c.Tools.CallTimeout = -time.Second }, "call_timeout"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"bad tools transport", func(c *Config) {
			c.Tools.Endpoint = "http://localhost:9000/mcp"
			c.Tools.Transport = "carrier-pigeon"
		}, "tools transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := validConfig()
	cfg.Model.APIKey = "sk-ant-0123456789abcdef"
	cfg.Tools.APIKey = "short"

	out := cfg.String()

	assert.Contains(t, out, `"provider": "anthropic"`)
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "sk-a****cdef")
	assert.NotContains(t, out, `"short"`)
	assert.Equal(t, "sk-ant-0123456789abcdef", cfg.Model.APIKey)
}
