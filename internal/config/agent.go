package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cobaltbridge/revtunnel/internal/envelope"
)

// Agent is the agent process's configuration.
type Agent struct {
	ServerURL      string        `mapstructure:"server-url"`
	ConnectID      string        `mapstructure:"connect-id"`
	OriginTimeout  time.Duration `mapstructure:"origin-timeout"`
	MaxBodyBytes   int64         `mapstructure:"max-body-bytes"`
	AllowHosts     []string      `mapstructure:"allow-host"`
	AllowlistFile  string        `mapstructure:"allowlist-file"`
	ReconnectDelay time.Duration `mapstructure:"reconnect-delay"`
	AdminListen    string        `mapstructure:"admin-listen"`
	LogLevel       string        `mapstructure:"log-level"`
	LogPretty      bool          `mapstructure:"log-pretty"`
}

// DefaultAgent returns the documented defaults.
func DefaultAgent() Agent {
	return Agent{
		OriginTimeout:  45 * time.Second,
		MaxBodyBytes:   envelope.DefaultMaxBodyBytes,
		ReconnectDelay: 5 * time.Second,
		LogLevel:       "info",
		LogPretty:      true,
	}
}

// LoadAgent unmarshals v into an Agent and validates the required fields.
func LoadAgent(v *viper.Viper) (Agent, error) {
	cfg := DefaultAgent()
	if err := v.Unmarshal(&cfg); err != nil {
		return Agent{}, err
	}

	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	cfg.ConnectID = strings.TrimSpace(cfg.ConnectID)

	if cfg.ServerURL == "" {
		return Agent{}, errors.New("server-url is required")
	}
	if cfg.ConnectID == "" {
		return Agent{}, errors.New("connect-id is required")
	}
	if !strings.HasPrefix(cfg.ServerURL, "ws://") && !strings.HasPrefix(cfg.ServerURL, "wss://") {
		return Agent{}, errors.New("server-url must start with ws:// or wss://")
	}
	return cfg, nil
}
