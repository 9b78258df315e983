// Package config holds the typed, Viper-backed configuration for both
// binaries.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/cobaltbridge/revtunnel/internal/envelope"
)

// Frontend is the frontend server's configuration.
type Frontend struct {
	Listen         string        `mapstructure:"listen"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	MaxBodyBytes   int64         `mapstructure:"max-body-bytes"`
	LogLevel       string        `mapstructure:"log-level"`
	LogPretty      bool          `mapstructure:"log-pretty"`
}

// DefaultFrontend returns the documented defaults: a loopback bind
// address and a 30 second request timeout.
func DefaultFrontend() Frontend {
	return Frontend{
		Listen:         "127.0.0.1:3000",
		RequestTimeout: 30 * time.Second,
		MaxBodyBytes:   envelope.DefaultMaxBodyBytes,
		LogLevel:       "info",
		LogPretty:      true,
	}
}

// LoadFrontend unmarshals v (already populated from flags/env/file by the
// caller's cobra command) into a Frontend, layered over the defaults.
func LoadFrontend(v *viper.Viper) (Frontend, error) {
	cfg := DefaultFrontend()
	if err := v.Unmarshal(&cfg); err != nil {
		return Frontend{}, err
	}
	return cfg, nil
}
