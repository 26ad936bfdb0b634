// Package config holds segindex settings and loads them from a file.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the dump and serve modes.
type Config struct {
	// Port is the HTTP server port.
	Port int `json:"port" yaml:"port" toml:"port"`

	// MediaURI is the URI written into playlists for every segment.
	MediaURI string `json:"media_uri" yaml:"media_uri" toml:"media_uri"`

	// Track is the sidx reference id to use. Zero selects the first one found.
	Track uint32 `json:"track" yaml:"track" toml:"track"`

	// Shape selects the dumped segment shape: "dash" or "seek".
	Shape string `json:"shape" yaml:"shape" toml:"shape"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:     8080,
		MediaURI: "/media",
		Shape:    "dash",
		LogLevel: "info",
	}
}

// Load reads the configuration file at path over the defaults. The format is
// chosen by extension: .toml, .yaml/.yml or .json.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and fills unset fields with defaults.
func (c *Config) Validate() error {
	def := Default()
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.MediaURI == "" {
		c.MediaURI = def.MediaURI
	}
	if c.Shape == "" {
		c.Shape = def.Shape
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	switch c.Shape {
	case "dash", "seek":
	default:
		return fmt.Errorf("shape must be dash or seek, got %q", c.Shape)
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
