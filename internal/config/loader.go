// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Load .env file via godotenv (non-fatal if absent; never overrides
//     variables already set in the OS environment).
//  2. Use envconfig to process struct tags and populate the Config struct.
//  3. Validate the struct using go-playground/validator.
//  4. Cross-validate fields envconfig cannot express: the timezone must be
//     loadable and the slot list must parse and be non-empty.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"hydromate/internal/types"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
type ConfigError struct {
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load loads and validates the service configuration.
func Load() (*Config, error) {
	// Step 1: Load .env file (non-fatal if absent). godotenv does NOT
	// override existing environment variables, preserving the priority
	// chain OS Environment > Dotenv.
	_ = godotenv.Load()

	// Step 2: Process envconfig tags to populate the Config struct.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Stage:   "parse",
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 3: Validate the populated struct.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Stage:   "validate",
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	// Step 4: Cross-field checks that struct tags cannot express.
	if _, err := time.LoadLocation(cfg.Reminder.Timezone); err != nil {
		return nil, &ConfigError{
			Stage:   "validate",
			Message: fmt.Sprintf("unknown timezone %q", cfg.Reminder.Timezone),
			Err:     err,
		}
	}
	slots, err := types.ParseClockTimes(cfg.Reminder.SlotTimes)
	if err != nil {
		return nil, &ConfigError{
			Stage:   "validate",
			Message: "invalid REMINDER_SLOT_TIMES",
			Err:     err,
		}
	}
	if len(slots) == 0 {
		return nil, &ConfigError{
			Stage:   "validate",
			Message: "REMINDER_SLOT_TIMES must name at least one checkpoint",
		}
	}

	return &cfg, nil
}
