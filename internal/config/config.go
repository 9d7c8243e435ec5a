// Package config defines the global configuration structure for the
// hydration reminder service. Configuration is loaded once at process
// initialization and is immutable thereafter. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Values are resolved from the OS environment, with a .env file as a
// lower-priority fallback. Any missing required value or invalid format
// causes the application to exit immediately on startup (fail fast).
package config

import (
	"time"

	"hydromate/internal/types"
)

// Config is the top-level configuration struct for the service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Reminder ReminderConfig
	WeChat   WeChatConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"3000"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// ReminderConfig holds the scheduling knobs for the water-task lifecycle:
// the fixed daily checkpoints, the default per-slot amount, and the timing
// of the sweep and reconciliation triggers.
type ReminderConfig struct {
	// Timezone is the single civil timezone every schedule and timestamp
	// is interpreted in.
	Timezone string `envconfig:"REMINDER_TIMEZONE" default:"Asia/Shanghai"`

	// SlotTimes is the ordered comma-separated list of daily checkpoints.
	SlotTimes string `envconfig:"REMINDER_SLOT_TIMES" default:"7:00,9:30,11:00,13:30,15:30,17:00,19:30,21:00"`

	// DefaultWaterML is the water amount assigned to each created task.
	DefaultWaterML int `envconfig:"REMINDER_DEFAULT_WATER_ML" default:"250" validate:"gt=0"`

	// GracePeriod is how long past its slot a pending task may linger
	// before the sweeper marks it missed.
	GracePeriod time.Duration `envconfig:"REMINDER_GRACE_PERIOD" default:"15m"`

	// SweepInterval is how often the expiration sweeper runs.
	SweepInterval time.Duration `envconfig:"REMINDER_SWEEP_INTERVAL" default:"5m"`

	// DispatchLead is how long before each slot the push notification fires.
	DispatchLead time.Duration `envconfig:"REMINDER_DISPATCH_LEAD" default:"5m"`
}

// Location resolves the configured timezone. The loader has already
// validated that the name is loadable.
func (r ReminderConfig) Location() (*time.Location, error) {
	return time.LoadLocation(r.Timezone)
}

// Slots parses the configured checkpoint list.
func (r ReminderConfig) Slots() ([]types.ClockTime, error) {
	return types.ParseClockTimes(r.SlotTimes)
}

// WeChatConfig holds the credentials and endpoints for the WeChat
// mini-program API used for login and subscribe-message delivery.
type WeChatConfig struct {
	AppID      string `envconfig:"WECHAT_APP_ID" validate:"required"`
	AppSecret  string `envconfig:"WECHAT_APP_SECRET" validate:"required"`
	TemplateID string `envconfig:"WECHAT_TEMPLATE_ID" validate:"required"`

	// BaseURL overrides the WeChat API host, for testing.
	BaseURL string `envconfig:"WECHAT_BASE_URL" default:"https://api.weixin.qq.com"`

	// TokenEarlyExpiry is subtracted from the upstream expires_in so the
	// cached access token is refreshed before it actually lapses.
	TokenEarlyExpiry time.Duration `envconfig:"WECHAT_TOKEN_EARLY_EXPIRY" default:"5m"`
}
