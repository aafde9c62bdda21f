// Package config provides configuration loading and validation for the
// audit service. It reads from a YAML file with TGAUDIT_* environment
// variable overrides and validates the result.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds platform credentials. The account session (api_id,
// api_hash) drives the event stream; the bot token is a separate identity
// used only to post into the audit log chat.
type TelegramConfig struct {
	APIID       int    `mapstructure:"api_id"       validate:"required,gt=0"`
	APIHash     string `mapstructure:"api_hash"     validate:"required"`
	BotToken    string `mapstructure:"bot_token"    validate:"required"`
	SessionName string `mapstructure:"session_name"`
	Transport   string `mapstructure:"transport"    validate:"required"`
}

// AuditConfig controls what gets captured and how it is reported.
type AuditConfig struct {
	LogChatID  int64   `mapstructure:"log_chat_id" validate:"required"`
	IgnoredIDs []int64 `mapstructure:"ignored_ids"`

	ListenOutgoingMessages      bool `mapstructure:"listen_outgoing_messages"`
	SaveEditedMessages          bool `mapstructure:"save_edited_messages"`
	DeleteSentGIFsFromSaved     bool `mapstructure:"delete_sent_gifs_from_saved"`
	DeleteSentStickersFromSaved bool `mapstructure:"delete_sent_stickers_from_saved"`

	RateLimitNumMessages int `mapstructure:"rate_limit_num_messages" validate:"gt=0"`

	PersistDaysUser    int `mapstructure:"persist_days_user"    validate:"gt=0"`
	PersistDaysChannel int `mapstructure:"persist_days_channel" validate:"gt=0"`
	PersistDaysGroup   int `mapstructure:"persist_days_group"   validate:"gt=0"`
	PersistDaysBot     int `mapstructure:"persist_days_bot"     validate:"gt=0"`
}

// StorageConfig locates the persisted store and the media vault.
type StorageConfig struct {
	DBPath       string `mapstructure:"db_path"       validate:"required"`
	MediaDir     string `mapstructure:"media_dir"     validate:"required"`
	FilePassword string `mapstructure:"file_password" validate:"required"`
	MaxFileSize  int64  `mapstructure:"max_file_size" validate:"gt=0"`
}

// IgnoreSet returns the configured ignore set as a lookup map. The audit
// log chat itself is always ignored so the service never archives its own
// reports.
func (c *Config) IgnoreSet() map[int64]bool {
	set := make(map[int64]bool, len(c.Audit.IgnoredIDs)+1)
	for _, id := range c.Audit.IgnoredIDs {
		set[id] = true
	}
	set[c.Audit.LogChatID] = true
	return set
}

// LoadConfig loads configuration from the given file path, applies
// TGAUDIT_* environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("TGAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay, defaults plus env still apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("telegram.session_name", "db/user.session")
	v.SetDefault("telegram.transport", "mtproto")

	v.SetDefault("audit.listen_outgoing_messages", true)
	v.SetDefault("audit.save_edited_messages", true)
	v.SetDefault("audit.delete_sent_gifs_from_saved", true)
	v.SetDefault("audit.delete_sent_stickers_from_saved", true)
	v.SetDefault("audit.rate_limit_num_messages", 5)
	v.SetDefault("audit.persist_days_user", 1)
	v.SetDefault("audit.persist_days_channel", 1)
	v.SetDefault("audit.persist_days_group", 1)
	v.SetDefault("audit.persist_days_bot", 1)

	v.SetDefault("storage.db_path", "db/messages.db")
	v.SetDefault("storage.media_dir", "media")
	v.SetDefault("storage.max_file_size", 5*1024*1024)
}
