// Package config loads the messenger client configuration from flags,
// MESSENGER_* environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/omochice/toy-messenger/internal/auth"
	"github.com/omochice/toy-messenger/internal/client"
	"github.com/omochice/toy-messenger/pkg/protocol"
)

const envPrefix = "MESSENGER"

var ErrInvalid = errors.New("invalid configuration")

// Config holds all client configuration.
type Config struct {
	Server           string        `mapstructure:"server"`
	Login            string        `mapstructure:"login"`
	Secret           string        `mapstructure:"secret"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	MaxEnvelopeSize  int           `mapstructure:"max_envelope_size"`
	MutualAuth       bool          `mapstructure:"mutual_auth"`
	DB               string        `mapstructure:"db"`
	LogLevel         string        `mapstructure:"log_level"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server", "localhost:7777")
	v.SetDefault("request_timeout", client.DefaultRequestTimeout)
	v.SetDefault("handshake_timeout", client.DefaultHandshakeTimeout)
	v.SetDefault("max_envelope_size", protocol.DefaultMaxEnvelopeSize)
	v.SetDefault("mutual_auth", false)
	v.SetDefault("db", "messenger.db")
	v.SetDefault("log_level", "info")
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("server", "localhost:7777", "Server address (host:port or ws://host:port/path)")
	fs.String("login", "", "Your login name (required)")
	fs.String("secret", "", "Shared secret passphrase (required)")
	fs.Duration("request-timeout", client.DefaultRequestTimeout, "How long to wait for a server reply")
	fs.Duration("handshake-timeout", client.DefaultHandshakeTimeout, "How long the authentication handshake may take")
	fs.Int("max-envelope-size", protocol.DefaultMaxEnvelopeSize, "Largest envelope accepted from the server in bytes")
	fs.Bool("mutual-auth", false, "Also authenticate the server")
	fs.String("db", "messenger.db", "Path to the local contact and history database")
	fs.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.String("config", "", "Path to config file")
	return fs
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, name := range []string{
		"server", "login", "secret", "request-timeout", "handshake-timeout",
		"max-envelope-size", "mutual-auth", "db", "log-level", "metrics-addr",
	} {
		key := strings.ReplaceAll(name, "-", "_")
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load parses args (without the program name) and merges them with the
// environment and the config file given by --config. Flags win over the
// environment, which wins over the file.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	fs := newFlagSet("client")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, err
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	switch {
	case c.Server == "":
		return fmt.Errorf("%w: server is required", ErrInvalid)
	case c.Login == "":
		return fmt.Errorf("%w: login is required (use --login or %s_LOGIN)", ErrInvalid, envPrefix)
	case c.Secret == "":
		return fmt.Errorf("%w: secret is required (use --secret or %s_SECRET)", ErrInvalid, envPrefix)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("%w: request_timeout must be positive", ErrInvalid)
	case c.HandshakeTimeout <= 0:
		return fmt.Errorf("%w: handshake_timeout must be positive", ErrInvalid)
	case c.MaxEnvelopeSize <= 0:
		return fmt.Errorf("%w: max_envelope_size must be positive", ErrInvalid)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// ClientConfig derives the shared secret and builds the transport config.
func (c *Config) ClientConfig() (client.Config, error) {
	secret, err := auth.DeriveSecret(c.Secret)
	if err != nil {
		return client.Config{}, fmt.Errorf("failed to derive secret: %w", err)
	}
	return client.Config{
		Address:          c.Server,
		Identity:         c.Login,
		Secret:           secret,
		RequestTimeout:   c.RequestTimeout,
		HandshakeTimeout: c.HandshakeTimeout,
		MaxEnvelopeSize:  c.MaxEnvelopeSize,
		MutualAuth:       c.MutualAuth,
	}, nil
}
