package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/dualpath/internal/abtest"
	"github.com/haasonsaas/dualpath/internal/cron"
	"github.com/haasonsaas/dualpath/internal/dispatch"
	"github.com/haasonsaas/dualpath/internal/generation"
	"github.com/haasonsaas/dualpath/internal/observability"
	"github.com/haasonsaas/dualpath/internal/queue"
)

// Config is the main configuration structure for dualpath.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Experiment abtest.Config             `yaml:"experiment"`
	Routing    RoutingConfig             `yaml:"routing"`
	Queue      queue.Config              `yaml:"queue"`
	Analytics  AnalyticsConfig           `yaml:"analytics"`
	Telegram   TelegramConfig            `yaml:"telegram"`
	Generation generation.Config         `yaml:"generation"`
	Reporter   ReporterConfig            `yaml:"reporter"`
	Logging    observability.LogConfig   `yaml:"logging"`
	Tracing    observability.TraceConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RoutingConfig holds the operational gates applied before the split.
// Both are hot reloadable.
type RoutingConfig struct {
	// FallbackMode sends every call to Plan B.
	FallbackMode bool `yaml:"fallback_mode"`

	// UseQueue=false disables Plan A. Default true.
	UseQueue *bool `yaml:"use_queue"`
}

// Gates converts the routing section to router gates.
func (r RoutingConfig) Gates() dispatch.Gates {
	useQueue := true
	if r.UseQueue != nil {
		useQueue = *r.UseQueue
	}
	return dispatch.Gates{FallbackMode: r.FallbackMode, UseQueue: useQueue}
}

type AnalyticsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Buffer         int           `yaml:"buffer"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// ForwarderConfig converts the section to forwarder settings.
func (a AnalyticsConfig) ForwarderConfig() abtest.ForwarderConfig {
	return abtest.ForwarderConfig{
		Buffer:         a.Buffer,
		PublishTimeout: a.PublishTimeout,
		MaxAttempts:    a.MaxAttempts,
	}
}

type TelegramConfig struct {
	Bots []BotConfig `yaml:"bots"`

	// AdminChatID receives significant-result summaries.
	AdminChatID int64 `yaml:"admin_chat_id"`

	// AdminBot names the bot used for admin messages. Defaults to the first bot.
	AdminBot string `yaml:"admin_bot"`
}

type BotConfig struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

type ReporterConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Schedule    string `yaml:"schedule"`
	NotifyAdmin bool   `yaml:"notify_admin"`
}

// Default returns the configuration used for omitted fields.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Experiment: abtest.DefaultConfig(),
		Queue: queue.Config{
			Addr:         "localhost:6379",
			Prefix:       "dualpath",
			MaxStreamLen: 10000,
		},
		Analytics: AnalyticsConfig{
			Enabled:        true,
			Buffer:         1024,
			PublishTimeout: 5 * time.Second,
			MaxAttempts:    3,
		},
		Generation: generation.Config{Collaborator: "main"},
		Reporter: ReporterConfig{
			Enabled:  true,
			Schedule: cron.DefaultSchedule,
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: observability.TraceConfig{
			ServiceName:  "dualpath",
			SamplingRate: 1.0,
		},
	}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + strings.Join(e.Issues, "; ")
}

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Server.Addr) == "" {
		issues = append(issues, "server.addr is required")
	}
	if c.Server.ShutdownTimeout < 0 {
		issues = append(issues, "server.shutdown_timeout must not be negative")
	}
	if err := c.Experiment.Validate(); err != nil {
		issues = append(issues, "experiment: "+err.Error())
	}
	if c.Queue.MaxStreamLen < 0 {
		issues = append(issues, "queue.max_stream_len must not be negative")
	}
	if c.Analytics.Buffer < 0 {
		issues = append(issues, "analytics.buffer must not be negative")
	}
	if c.Analytics.PublishTimeout < 0 {
		issues = append(issues, "analytics.publish_timeout must not be negative")
	}
	if c.Analytics.MaxAttempts < 0 {
		issues = append(issues, "analytics.max_attempts must not be negative")
	}

	names := make(map[string]bool, len(c.Telegram.Bots))
	for i, b := range c.Telegram.Bots {
		name := strings.ToLower(strings.TrimSpace(b.Name))
		switch {
		case name == "":
			issues = append(issues, fmt.Sprintf("telegram.bots[%d].name is required", i))
		case names[name]:
			issues = append(issues, fmt.Sprintf("telegram.bots[%d].name %q is duplicated", i, b.Name))
		}
		names[name] = true
		if strings.TrimSpace(b.Token) == "" {
			issues = append(issues, fmt.Sprintf("telegram.bots[%d].token is required", i))
		}
	}
	if admin := strings.ToLower(strings.TrimSpace(c.Telegram.AdminBot)); admin != "" && !names[admin] {
		issues = append(issues, fmt.Sprintf("telegram.admin_bot %q is not a configured bot", c.Telegram.AdminBot))
	}
	if c.Generation.APIKey != "" && len(c.Telegram.Bots) > 0 {
		if !names[strings.ToLower(strings.TrimSpace(c.Generation.Collaborator))] {
			issues = append(issues, fmt.Sprintf("generation.collaborator %q is not a configured bot", c.Generation.Collaborator))
		}
	}

	if err := cron.ValidateSchedule(c.Reporter.Schedule); err != nil {
		issues = append(issues, "reporter.schedule: "+err.Error())
	}
	if c.Reporter.NotifyAdmin && c.Telegram.AdminChatID == 0 {
		issues = append(issues, "reporter.notify_admin requires telegram.admin_chat_id")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		issues = append(issues, "tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Load reads path (YAML, JSON or JSON5), resolves includes and environment
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
