package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator performs the stricter, advisory checks reported by
// `parley config validate`. Validate on Config only rejects what cannot run.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature validates the sampling temperature
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	return nil
}

// ValidateLogLevel validates a log level
func (v *Validator) ValidateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
}

// ValidateTimezone checks that the prompt timezone can be loaded
func (v *Validator) ValidateTimezone(name string) error {
	if name == "" {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return nil
}

// ValidateTrimWindow warns when the trim budget exceeds the history cap, in
// which case trimming never has anything to do.
func (v *Validator) ValidateTrimWindow(trimBudget, maxHistory int) error {
	if trimBudget > maxHistory {
		return fmt.Errorf("agent trim_budget (%d) exceeds session max_history (%d)", trimBudget, maxHistory)
	}
	return nil
}

// ValidateConfig runs all checks and returns every problem found
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Model.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Model.APIKey, cfg.Model.Provider); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.ValidateTemperature(cfg.Model.Temperature); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateTimezone(cfg.Agent.Timezone); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateTrimWindow(cfg.Agent.TrimBudget, cfg.Session.MaxHistory); err != nil {
		errs = append(errs, err)
	}

	return errs
}
