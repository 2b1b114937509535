// Package config loads engine settings from an optional YAML file, ARCHWAY_*
// environment variables, and defaults, in that precedence order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig covers the inspection API exposed by `archway serve`.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// TransportConfig selects and parameterizes the real-time channel. Kind is
// "websocket" or "nats"; an empty websocket URL with kind websocket leaves
// the engine fallback-only.
type TransportConfig struct {
	Kind          string `mapstructure:"kind"`
	WebSocketURL  string `mapstructure:"websocket_url"`
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// BackendConfig points at the synchronous chat endpoint used when the
// real-time channel is unavailable.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	// URL enables the Postgres recorder; empty keeps history in memory.
	URL string `mapstructure:"url"`
}

type ChatConfig struct {
	ConversationID  string `mapstructure:"conversation_id"`
	HistoryWindow   int    `mapstructure:"history_window"`
	SummaryMaxChars int    `mapstructure:"summary_max_chars"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration. With an explicit path the file must exist; with
// none, an archway.yaml in the working directory is picked up when present.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8710)
	v.SetDefault("transport.kind", "websocket")
	v.SetDefault("transport.websocket_url", "")
	v.SetDefault("transport.nats_url", "nats://localhost:4222")
	v.SetDefault("transport.subject_prefix", "archway.chat")
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("chat.conversation_id", "")
	v.SetDefault("chat.history_window", 10)
	v.SetDefault("chat.summary_max_chars", 2000)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("ARCHWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("archway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport.Kind {
	case "websocket", "nats":
	default:
		return fmt.Errorf("config: unknown transport kind %q", c.Transport.Kind)
	}
	if c.Chat.HistoryWindow < 0 {
		return fmt.Errorf("config: chat.history_window must not be negative")
	}
	return nil
}
