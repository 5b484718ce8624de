package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should write to file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "parley.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		logger.Info().Msg("hello from test")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello from test")
	})

	t.Run("should fan out to extra writers", func(t *testing.T) {
		var tap bytes.Buffer

		logger, err := New(Config{Level: "info"}, &tap)
		require.NoError(t, err)
		defer logger.Close()

		storeLog := logger.Component("store")
		storeLog.Info().Str("session_id", "abc").Msg("appended")

		assert.Contains(t, tap.String(), `"component":"store"`)
		assert.Contains(t, tap.String(), `"session_id":"abc"`)
	})

	t.Run("should redact secrets before they reach writers", func(t *testing.T) {
		var tap bytes.Buffer

		logger, err := New(Config{Level: "info", Redaction: true}, &tap)
		require.NoError(t, err)
		defer logger.Close()

		logger.Info().Msg("key sk-ant-REDACTED")

		assert.Contains(t, tap.String(), "[REDACTED]")
		assert.NotContains(t, tap.String(), "abcdefghijklmnopqrstuvwxyz0123")
	})

	t.Run("should fall back to info on unknown level", func(t *testing.T) {
		logger, err := New(Config{Level: "chatty"}, &bytes.Buffer{})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.Zerolog().GetLevel())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
}
