package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoaderLoad(t *testing.T) {
	t.Run("should merge file values over defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "parley.json", `{
			"model": {"provider": "openai", "name": "gpt-4o", "api_key": "sk-file"},
			"session": {"max_history": 40, "idle_timeout": "2h"}
		}`)

		cfg, err := NewLoader(path, filepath.Join(dir, "missing.env")).Load()
		require.NoError(t, err)

		assert.Equal(t, "openai", cfg.Model.Provider)
		assert.Equal(t, "gpt-4o", cfg.Model.Name)
		assert.Equal(t, "sk-file", cfg.Model.APIKey)
		assert.Equal(t, 40, cfg.Session.MaxHistory)
		assert.Equal(t, 2*time.Hour, cfg.Session.IdleTimeout)
		assert.Equal(t, 30*time.Minute, cfg.Session.SweepInterval)
		assert.Equal(t, 8192, cfg.Model.MaxTokens)
	})

	t.Run("should read yaml", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "parley.yaml", "agent:\n  max_iterations: 4\n  timezone: UTC\n")

		cfg, err := NewLoader(path, filepath.Join(dir, "missing.env")).Load()
		require.NoError(t, err)

		assert.Equal(t, 4, cfg.Agent.MaxIterations)
		assert.Equal(t, "UTC", cfg.Agent.Timezone)
	})

	t.Run("should let environment override file", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "parley.json", `{"server": {"port": 4000}}`)
		t.Setenv("PARLEY_SERVER_PORT", "5000")
		t.Setenv("PARLEY_AGENT_TRIM_BUDGET", "9")
		t.Setenv("PARLEY_TOOLS_CALL_TIMEOUT", "45s")

		cfg, err := NewLoader(path, filepath.Join(dir, "missing.env")).Load()
		require.NoError(t, err)

		assert.Equal(t, 5000, cfg.Server.Port)
		assert.Equal(t, 9, cfg.Agent.TrimBudget)
		assert.Equal(t, 45*time.Second, cfg.Tools.CallTimeout)
	})

	t.Run("should pick provider key from conventional env", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "parley.json", `{}`)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")

		cfg, err := NewLoader(path, filepath.Join(dir, "missing.env")).Load()
		require.NoError(t, err)

		assert.Equal(t, "sk-ant-from-env", cfg.Model.APIKey)
	})

	t.Run("should load dotenv files", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "parley.json", `{}`)
		envFile := writeFile(t, dir, ".env", "TOOLS_ENDPOINT=http://tools.local/mcp\n")
		t.Cleanup(func() { os.Unsetenv("TOOLS_ENDPOINT") })

		cfg, err := NewLoader(path, envFile).Load()
		require.NoError(t, err)

		assert.Equal(t, "http://tools.local/mcp", cfg.Tools.Endpoint)
	})

	t.Run("should fail on explicit missing file", func(t *testing.T) {
		dir := t.TempDir()
		_, err := NewLoader(filepath.Join(dir, "nope.json"), filepath.Join(dir, "missing.env")).Load()
		assert.Error(t, err)
	})
}
