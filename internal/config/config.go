// Package config handles configuration loading and management for Bureau.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Bureau.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Meeting   MeetingConfig   `mapstructure:"meeting"`
	Worktree  WorktreeConfig  `mapstructure:"worktree"`
	Resume    ResumeConfig    `mapstructure:"resume"`
}

// AnthropicConfig holds Anthropic API settings for the planner collaborator.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// DefaultsConfig holds default values for new agents.
type DefaultsConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	// APIBaseURL is the endpoint used by the generic api provider.
	APIBaseURL string `mapstructure:"api_base_url"`
}

// TimeoutsConfig holds run supervision timeouts.
type TimeoutsConfig struct {
	// Idle aborts a run after this long with no output.
	Idle time.Duration `mapstructure:"idle"`
	// Hard aborts a run after this long regardless of output.
	Hard time.Duration `mapstructure:"hard"`
}

// MeetingConfig caps how much work a single meeting may seed.
type MeetingConfig struct {
	MaxActionItems     int `mapstructure:"max_action_items"`
	MaxRevisionSignals int `mapstructure:"max_revision_signals"`
}

// WorktreeConfig holds git worktree isolation settings.
type WorktreeConfig struct {
	// BaseDir is where per-task worktrees are created. Empty means
	// alongside the project checkout.
	BaseDir string `mapstructure:"base_dir"`
}

// ResumeConfig bounds the randomized delay before auto-resuming paused tasks.
type ResumeConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.bureau.yaml in current directory or parent)
// 3. User config (~/.config/bureau/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Project config takes precedence over the user config.
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("defaults.provider", cfg.Defaults.Provider)
	v.Set("defaults.model", cfg.Defaults.Model)
	v.Set("defaults.api_base_url", cfg.Defaults.APIBaseURL)
	v.Set("timeouts.idle", cfg.Timeouts.Idle.String())
	v.Set("timeouts.hard", cfg.Timeouts.Hard.String())
	v.Set("meeting.max_action_items", cfg.Meeting.MaxActionItems)
	v.Set("meeting.max_revision_signals", cfg.Meeting.MaxRevisionSignals)
	v.Set("worktree.base_dir", cfg.Worktree.BaseDir)
	v.Set("resume.min_delay", cfg.Resume.MinDelay.String())
	v.Set("resume.max_delay", cfg.Resume.MaxDelay.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")

	v.SetDefault("defaults.provider", "claude-cli")
	v.SetDefault("defaults.model", "")
	v.SetDefault("defaults.api_base_url", "")

	v.SetDefault("timeouts.idle", "5m")
	v.SetDefault("timeouts.hard", "30m")

	v.SetDefault("meeting.max_action_items", 12)
	v.SetDefault("meeting.max_revision_signals", 8)

	v.SetDefault("worktree.base_dir", "")

	v.SetDefault("resume.min_delay", "1500ms")
	v.SetDefault("resume.max_delay", "4500ms")
}

// getUserConfigDir returns the XDG config directory for Bureau.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "bureau")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "bureau")
	}
	return filepath.Join(home, ".config", "bureau")
}

// findProjectConfig searches for .bureau.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".bureau.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Defaults: DefaultsConfig{
			Provider: "claude-cli",
		},
		Timeouts: TimeoutsConfig{
			Idle: 5 * time.Minute,
			Hard: 30 * time.Minute,
		},
		Meeting: MeetingConfig{
			MaxActionItems:     12,
			MaxRevisionSignals: 8,
		},
		Resume: ResumeConfig{
			MinDelay: 1500 * time.Millisecond,
			MaxDelay: 4500 * time.Millisecond,
		},
	}
}
