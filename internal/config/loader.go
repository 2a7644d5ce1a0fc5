package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "flowrelay.yaml"

// Configuration errors. These are the only errors in the plugin that are
// allowed to propagate into the host and halt pipeline startup.
var (
	ErrDeliveryModeRequired = errors.New("config: enabled but neither bot_token nor webhook_url is set")
	ErrDeliveryModeConflict = errors.New("config: bot_token and webhook_url are mutually exclusive")
	ErrBadBotToken          = errors.New(`config: bot_token must start with "xoxb-"`)
	ErrChannelRequired      = errors.New("config: channel is required in bot mode")
	ErrBadChannel           = errors.New(`config: channel must be "#name" or a C/G-prefixed ID`)
	ErrBadWebhookURL        = errors.New("config: webhook_url must be a valid https URL")
	ErrProgressInterval     = errors.New("config: progress.interval must be at least 1s")
	ErrBadEmoji             = errors.New("config: reaction emoji names must not include colons")
)

var (
	channelNameRe = regexp.MustCompile(`^#[a-z0-9][a-z0-9._-]*$`)
	channelIDRe   = regexp.MustCompile(`^[CG][A-Z0-9]{6,}$`)
)

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	// The partially valid struct is returned alongside the error so the
	// caller can still read FailOnInvalidConfig and decide how hard to
	// fail.
	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}

	return &cfg, nil
}

// FromMap builds a Config from the host engine's resolved configuration
// scope. The map is re-encoded through YAML so nested keys follow the same
// names as the file format.
func FromMap(raw map[string]any) (*Config, error) {
	cfg := Defaults()

	if len(raw) > 0 {
		data, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("config map: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config map: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setBool(&cfg.Enabled, "FLOWRELAY_ENABLED")
	setString(&cfg.BotToken, "FLOWRELAY_BOT_TOKEN")
	setString(&cfg.BotToken, "SLACK_BOT_TOKEN")
	setString(&cfg.Channel, "FLOWRELAY_CHANNEL")
	setString(&cfg.WebhookURL, "FLOWRELAY_WEBHOOK_URL")
	setString(&cfg.WebhookURL, "SLACK_WEBHOOK_URL")
	setBool(&cfg.OnStart.Enabled, "FLOWRELAY_ON_START")
	setBool(&cfg.OnComplete.Enabled, "FLOWRELAY_ON_COMPLETE")
	setBool(&cfg.OnError.Enabled, "FLOWRELAY_ON_ERROR")
	setDuration(&cfg.Progress.Interval, "FLOWRELAY_PROGRESS_INTERVAL")
	setBool(&cfg.Reactions.Enabled, "FLOWRELAY_REACTIONS")
	setBool(&cfg.DeepLink, "FLOWRELAY_DEEP_LINK")
	setBool(&cfg.Threads, "FLOWRELAY_THREADS")
	setBool(&cfg.ValidateOnStartup, "FLOWRELAY_VALIDATE_ON_STARTUP")
	setBool(&cfg.FailOnInvalidConfig, "FLOWRELAY_FAIL_ON_INVALID_CONFIG")
	setString(&cfg.Logging.Level, "FLOWRELAY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FLOWRELAY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FLOWRELAY_LOG_ASYNC")
}

// Validate checks the resolved snapshot. A disabled plugin is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch {
	case c.BotToken == "" && c.WebhookURL == "":
		return ErrDeliveryModeRequired
	case c.BotToken != "" && c.WebhookURL != "":
		return ErrDeliveryModeConflict
	}

	if c.BotToken != "" {
		if !strings.HasPrefix(c.BotToken, "xoxb-") {
			return ErrBadBotToken
		}
		if c.Channel == "" {
			return ErrChannelRequired
		}
		if !channelNameRe.MatchString(c.Channel) && !channelIDRe.MatchString(c.Channel) {
			return fmt.Errorf("%w: got %q", ErrBadChannel, c.Channel)
		}
	}

	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("%w: got %q", ErrBadWebhookURL, c.WebhookURL)
		}
	}

	if c.Progress.Interval != 0 && c.Progress.Interval < time.Second {
		return fmt.Errorf("%w: got %s", ErrProgressInterval, c.Progress.Interval)
	}

	for _, emoji := range []string{c.Reactions.Start, c.Reactions.Success, c.Reactions.Error} {
		if strings.Contains(emoji, ":") {
			return fmt.Errorf("%w: got %q", ErrBadEmoji, emoji)
		}
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
