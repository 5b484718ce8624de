package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-ant-abc", "anthropic"))
	assert.NoError(t, v.ValidateAPIKey("sk-proj-abc", "openai"))
	assert.Error(t, v.ValidateAPIKey("", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("sk-proj-abc", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("abc", "openai"))
}

func TestValidateTemperature(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTemperature(0))
	assert.NoError(t, v.ValidateTemperature(1))
	assert.Error(t, v.ValidateTemperature(-0.1))
	assert.Error(t, v.ValidateTemperature(1.5))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateTimezone(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTimezone(""))
	assert.NoError(t, v.ValidateTimezone("UTC"))
	assert.Error(t, v.ValidateTimezone("Mars/Olympus_Mons"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("should accept defaults with a key", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(validConfig()))
	})

	t.Run("should collect every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Model.APIKey = "not-a-key"
		cfg.Logging.Level = "loud"
		cfg.Agent.TrimBudget = 50

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 3)
	})
}
