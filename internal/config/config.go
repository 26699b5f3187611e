// Package config loads process configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// environment variables prefixed TOI700_ (for example TOI700_DATABASE_PATH
// or TOI700_LISTEN_ADDR). Game tuning is not configured here; RulesFile
// points at a CUE file read by package rules.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "TOI700"

type Config struct {
	DatabasePath    string            `yaml:"databasePath"    split_words:"true"`
	ListenAddr      string            `yaml:"listenAddr"      split_words:"true"`
	LogLevel        string            `yaml:"logLevel"        split_words:"true"`
	LogFormat       string            `yaml:"logFormat"       split_words:"true"`
	RulesFile       string            `yaml:"rulesFile"       split_words:"true"`
	MetricsEnabled  bool              `yaml:"metricsEnabled"  split_words:"true"`
	ShutdownTimeout time.Duration     `yaml:"shutdownTimeout" split_words:"true"`
	AdminUsers      []string          `yaml:"adminUsers"      split_words:"true"`
	APITokens       map[string]string `yaml:"apiTokens"       envconfig:"API_TOKENS"`
	Resources       []string          `yaml:"resources"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		DatabasePath:    "toi700.db",
		ListenAddr:      "127.0.0.1:8700",
		LogLevel:        "info",
		LogFormat:       "text",
		MetricsEnabled:  true,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is not empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(buf, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos surface instead of being ignored.
func decodeYAML(buf []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks values that have a closed set of options.
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("databasePath is required")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("logFormat must be text or json, got %q", c.LogFormat)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdownTimeout must not be negative")
	}
	for token, user := range c.APITokens {
		if token == "" || user == "" {
			return fmt.Errorf("apiTokens entries need a token and a user")
		}
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logLevel: %w", err)
	}
	return l, nil
}

// Level returns the configured log level. Invalid levels were rejected by
// Validate; Level falls back to Info for a Config that skipped it.
func (c Config) Level() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// IsAdmin reports whether userID holds the admin role.
func (c Config) IsAdmin(userID string) bool {
	for _, u := range c.AdminUsers {
		if u == userID {
			return true
		}
	}
	return false
}
