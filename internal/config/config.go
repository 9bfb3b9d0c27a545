// Package config manages application configuration from config.yaml,
// BOT_-prefixed environment variables, and default values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all components
// of the WardenBot system: logging, transport, AI integration, moderation,
// the processing pipeline, and the database.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Messages   MessagesConfig   `mapstructure:"messages"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// BotInfo holds runtime information about the bot account, populated
// after the transport connection is established.
type BotInfo struct {
	ID        int64
	Username  string
	FirstName string
}

// TelegramConfig holds transport credentials and access control settings.
type TelegramConfig struct {
	Token          string   `mapstructure:"token" validate:"required"`
	AdminUserID    int64    `mapstructure:"admin_user_id" validate:"required,gt=0"`
	BotAliases     []string `mapstructure:"bot_aliases"`
	AllowedUserIDs []int64  `mapstructure:"allowed_user_ids"`
	BlockedUserIDs []int64  `mapstructure:"blocked_user_ids"`

	// BotInfo is resolved at startup, not read from configuration.
	BotInfo BotInfo `mapstructure:"-"`
}

// GeminiConfig holds completion provider settings.
type GeminiConfig struct {
	APIKey            string        `mapstructure:"api_key" validate:"required"`
	ModelName         string        `mapstructure:"model_name" validate:"required"`
	Temperature       float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	SystemInstruction string        `mapstructure:"system_instruction" validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"min=1s,max=10m"`
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
}

// DatabaseConfig holds SQLite connection settings.
type DatabaseConfig struct {
	Path               string `mapstructure:"path" validate:"required"`
	MaxHistoryMessages int    `mapstructure:"max_history_messages" validate:"min=1,max=500"`
}

// PipelineConfig controls admission, deduplication, and response caching.
type PipelineConfig struct {
	DedupHorizon    time.Duration `mapstructure:"dedup_horizon" validate:"min=1s"`
	RateLimitCount  int           `mapstructure:"rate_limit_count" validate:"min=1"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window" validate:"min=1s"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" validate:"min=1s"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"min=1s"`
}

// ModerationConfig controls the content moderation gate.
type ModerationConfig struct {
	Keywords []string `mapstructure:"keywords"`

	// ClassifierURL points at the authoritative classifier endpoint.
	// Empty means the keyword fast path is authoritative on its own.
	ClassifierURL     string        `mapstructure:"classifier_url" validate:"omitempty,url"`
	ClassifierTimeout time.Duration `mapstructure:"classifier_timeout" validate:"min=1s"`

	// FailClosedOutbound blocks delivery when the classifier is unavailable
	// for the outbound check. The default (false) fails open: classifier
	// downtime never withholds an otherwise-safe reply.
	FailClosedOutbound bool `mapstructure:"fail_closed_outbound"`
}

// DeliveryConfig controls outbound message chunking and pacing.
type DeliveryConfig struct {
	MaxMessageLength int     `mapstructure:"max_message_length" validate:"min=64,max=4096"`
	SendsPerSecond   float64 `mapstructure:"sends_per_second" validate:"gt=0"`
}

// TaskConfig describes one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// MessagesConfig holds user-facing message templates.
type MessagesConfig struct {
	Welcome          string `mapstructure:"welcome"`
	NotAuthorized    string `mapstructure:"not_authorized"`
	GeneralError     string `mapstructure:"general_error"`
	RateLimited      string `mapstructure:"rate_limited"`
	ProviderFallback string `mapstructure:"provider_fallback"`
	UnsafeFallback   string `mapstructure:"unsafe_fallback"`
	WarningNotice    string `mapstructure:"warning_notice"`
	BanNotice        string `mapstructure:"ban_notice"`
	PermanentBan     string `mapstructure:"permanent_ban"`
}

// Load reads configuration from the given path (or config.yaml in the working
// directory when empty), applies defaults and environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, defaults plus env cover everything.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 1.0)
	v.SetDefault("gemini.system_instruction",
		"You are a helpful assistant focused on providing clear and accurate responses.")
	v.SetDefault("gemini.timeout", 2*time.Minute)
	v.SetDefault("gemini.max_attempts", 3)

	v.SetDefault("database.path", "storage.db")
	v.SetDefault("database.max_history_messages", 50)

	v.SetDefault("pipeline.dedup_horizon", 45*time.Second)
	v.SetDefault("pipeline.rate_limit_count", 10)
	v.SetDefault("pipeline.rate_limit_window", time.Minute)
	v.SetDefault("pipeline.cache_ttl", time.Hour)
	v.SetDefault("pipeline.sweep_interval", time.Minute)

	v.SetDefault("moderation.classifier_timeout", 10*time.Second)
	v.SetDefault("moderation.fail_closed_outbound", false)

	v.SetDefault("delivery.max_message_length", 4096)
	v.SetDefault("delivery.sends_per_second", 1.0)

	v.SetDefault("scheduler.tasks", map[string]TaskConfig{
		"pipeline_sweep":  {Enabled: true, Schedule: "* * * * *"},
		"sql_maintenance": {Enabled: true, Schedule: "0 4 * * *"},
	})

	v.SetDefault("messages.welcome",
		"I'm ready to assist you. Mention me in your group message to start a conversation.")
	v.SetDefault("messages.not_authorized",
		"You are not authorized to use this command.")
	v.SetDefault("messages.general_error",
		"An error occurred. Please try again later.")
	v.SetDefault("messages.rate_limited",
		"You're sending messages too quickly. Please slow down and try again in a minute.")
	v.SetDefault("messages.provider_fallback",
		"I'm having trouble thinking right now. Please try again in a moment.")
	v.SetDefault("messages.unsafe_fallback",
		"I can't help with that request.")
	v.SetDefault("messages.warning_notice",
		"Your message violates our content policy. Warning %d/3.")
	v.SetDefault("messages.ban_notice",
		"You have been banned until %s for repeated content policy violations.")
	v.SetDefault("messages.permanent_ban",
		"You have been permanently banned for repeated content policy violations.")
}

// IsUserAuthorized determines whether a user may use the response pipeline.
// The admin is always authorized, blocked users are always denied, and when
// an allow list is configured only listed users pass.
func (c *Config) IsUserAuthorized(userID int64) bool {
	if userID == c.Telegram.AdminUserID {
		return true
	}
	for _, id := range c.Telegram.BlockedUserIDs {
		if id == userID {
			return false
		}
	}
	if len(c.Telegram.AllowedUserIDs) > 0 {
		for _, id := range c.Telegram.AllowedUserIDs {
			if id == userID {
				return true
			}
		}
		return false
	}
	return true
}
