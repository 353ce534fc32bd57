// internal/config/config.go
//
// Package config loads server configuration from an optional YAML file with
// environment-variable overrides. Environment variables always win, so a
// deployment can run with no file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for both binaries.
type Config struct {
	TCP     TCPConfig     `yaml:"tcp"`
	HTTP    HTTPConfig    `yaml:"http"`
	Game    GameConfig    `yaml:"game"`
	Logging LoggingConfig `yaml:"logging"`
}

// TCPConfig addresses the game server. The game port is an internal
// loopback port; the bridge is its only intended client.
type TCPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// HTTPConfig addresses the public bridge.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// GameConfig tunes game-registry behavior.
type GameConfig struct {
	EndedTTL      time.Duration `yaml:"ended_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig selects the logrus level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file and no env overrides
// are present.
func Default() *Config {
	return &Config{
		TCP:     TCPConfig{Host: "127.0.0.1", Port: 4000},
		HTTP:    HTTPConfig{Port: 8080},
		Game:    GameConfig{EndedTTL: 120 * time.Second, SweepInterval: 30 * time.Second},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path as YAML over the defaults, applies env overrides, and
// validates. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("TCP_HOST"); host != "" {
		c.TCP.Host = host
	}
	if port := os.Getenv("TCP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.TCP.Port = p
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.HTTP.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func (c *Config) validate() error {
	if c.TCP.Port < 1 || c.TCP.Port > 65535 {
		return fmt.Errorf("invalid tcp port: %d", c.TCP.Port)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.Game.EndedTTL <= 0 {
		return fmt.Errorf("ended_ttl must be positive")
	}
	return nil
}

// TCPAddr returns the game server address in host:port form.
func (c *Config) TCPAddr() string {
	return fmt.Sprintf("%s:%d", c.TCP.Host, c.TCP.Port)
}

// HTTPAddr returns the bridge listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
