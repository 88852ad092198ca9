// Package config loads the gemini-cli configuration from
// ~/.config/gemini-cli/config.yaml with environment variable fallbacks.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Provider  string          `mapstructure:"provider"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Session   SessionConfig   `mapstructure:"session"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	MaxTurns         int    `mapstructure:"max_turns"`         // Cap on chained turns per exchange
	MaxContinuations int    `mapstructure:"max_continuations"` // Autonomous continuation bound
	CompressAfter    int    `mapstructure:"compress_after"`    // Compress history beyond this many messages (0 = off)
	SystemPrompt     string `mapstructure:"system_prompt"`     // Extra system instructions
	Yolo             bool   `mapstructure:"yolo"`              // Skip all confirmations
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// SessionConfig configures the sqlite session store.
type SessionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // Defaults to <config dir>/sessions.db
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	viper.SetDefault("provider", "gemini")
	viper.SetDefault("gemini.model", "gemini-2.5-pro")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("agent.max_turns", 20)
	viper.SetDefault("agent.max_continuations", 1)
	viper.SetDefault("agent.compress_after", 0)
	viper.SetDefault("session.enabled", true)

	// Config file is optional
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Gemini.APIKey = expandEnv(cfg.Gemini.APIKey)
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if cfg.Session.Path == "" {
		cfg.Session.Path = filepath.Join(configPath, "sessions.db")
	}

	return &cfg, nil
}

// ApplyOverrides applies command-line provider and model overrides.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch c.Provider {
		case "gemini":
			c.Gemini.Model = model
		case "anthropic":
			c.Anthropic.Model = model
		}
	}
}

// ActiveModel returns the model for the configured provider.
func (c *Config) ActiveModel() string {
	switch c.Provider {
	case "anthropic":
		return c.Anthropic.Model
	default:
		return c.Gemini.Model
	}
}

// GetConfigDir returns the gemini-cli config directory, creating it if
// needed.
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "gemini-cli")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// expandEnv resolves ${VAR} and $VAR references in config values.
func expandEnv(value string) string {
	if strings.Contains(value, "$") {
		return os.ExpandEnv(value)
	}
	return value
}
