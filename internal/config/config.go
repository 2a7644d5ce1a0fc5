// Package config provides hierarchical configuration loading for FlowRelay.
// Precedence: defaults < YAML file < environment variables. The resolved
// Config is a snapshot: it is built once at flow-create time and never
// mutated afterward.
package config

import "time"

// Config holds all runtime configuration for the FlowRelay plugin.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Delivery mode. Exactly one of BotToken or WebhookURL must be set
	// when the plugin is enabled.
	BotToken   string `yaml:"bot_token"`
	Channel    string `yaml:"channel"`
	WebhookURL string `yaml:"webhook_url"`

	OnStart    Event `yaml:"on_start"`
	OnComplete Event `yaml:"on_complete"`
	OnError    Event `yaml:"on_error"`

	Progress  Progress  `yaml:"progress"`
	Reactions Reactions `yaml:"reactions"`

	DeepLink bool `yaml:"deep_link"`
	Threads  bool `yaml:"threads"`

	// ValidateOnStartup runs an auth check when the flow is created.
	// FailOnInvalidConfig escalates a failed check from a warning to a
	// pipeline abort.
	ValidateOnStartup   bool `yaml:"validate_on_startup"`
	FailOnInvalidConfig bool `yaml:"fail_on_invalid_config"`

	// IncludeResourceUsage adds task statistics to terminal notifications.
	// An explicit per-event Fields list takes precedence over this toggle.
	IncludeResourceUsage bool `yaml:"include_resource_usage"`

	Logging Logging `yaml:"logging"`
}

// Event holds per-notification settings for one lifecycle event.
type Event struct {
	Enabled bool   `yaml:"enabled"`
	Message string `yaml:"message"`

	// Fields is an include allow-list. Empty means every applicable
	// default field; non-empty means exactly the listed fields.
	Fields []string `yaml:"fields"`

	Footer bool `yaml:"footer"`

	// Files lists paths uploaded after this notification (terminal
	// events only).
	Files []string `yaml:"files"`

	// Custom is a structured message (keys: text, color, fields) that,
	// when present, replaces the default template entirely.
	Custom map[string]any `yaml:"custom"`
}

// Progress holds progress-update throttling configuration.
// An Interval of zero disables progress updates.
type Progress struct {
	Interval time.Duration `yaml:"interval"`
}

// Reactions holds the emoji names applied to the run's first message.
type Reactions struct {
	Enabled bool   `yaml:"enabled"`
	Start   string `yaml:"start"`
	Success string `yaml:"success"`
	Error   string `yaml:"error"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Delivery mode names, used as transport registry keys.
const (
	ModeBot     = "bot"
	ModeWebhook = "webhook"
)

// Mode returns the delivery mode implied by the configured credentials,
// or an empty string when neither is set.
func (c *Config) Mode() string {
	switch {
	case c.BotToken != "":
		return ModeBot
	case c.WebhookURL != "":
		return ModeWebhook
	default:
		return ""
	}
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Enabled: true,
		OnStart: Event{
			Enabled: true,
			Footer:  true,
		},
		OnComplete: Event{
			Enabled: true,
			Footer:  true,
		},
		OnError: Event{
			Enabled: true,
			Footer:  true,
		},
		Progress: Progress{
			Interval: 0, // disabled unless configured
		},
		Reactions: Reactions{
			Enabled: true,
			Start:   "hourglass_flowing_sand",
			Success: "white_check_mark",
			Error:   "x",
		},
		DeepLink:             true,
		Threads:              true,
		ValidateOnStartup:    true,
		FailOnInvalidConfig:  false,
		IncludeResourceUsage: true,
		Logging: Logging{
			Level:   "info",
			Service: "flowrelay",
		},
	}
}
