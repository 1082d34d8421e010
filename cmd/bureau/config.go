package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bureaulab/bureau/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Bureau configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/bureau/config.yaml
Project-specific overrides can be placed in .bureau.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("defaults.provider: %s\n", cfg.Defaults.Provider)
	fmt.Printf("defaults.model: %s\n", cfg.Defaults.Model)
	fmt.Printf("defaults.api_base_url: %s\n", cfg.Defaults.APIBaseURL)
	fmt.Printf("timeouts.idle: %s\n", cfg.Timeouts.Idle)
	fmt.Printf("timeouts.hard: %s\n", cfg.Timeouts.Hard)
	fmt.Printf("meeting.max_action_items: %d\n", cfg.Meeting.MaxActionItems)
	fmt.Printf("meeting.max_revision_signals: %d\n", cfg.Meeting.MaxRevisionSignals)
	fmt.Printf("worktree.base_dir: %s\n", cfg.Worktree.BaseDir)
	fmt.Printf("resume.min_delay: %s\n", cfg.Resume.MinDelay)
	fmt.Printf("resume.max_delay: %s\n", cfg.Resume.MaxDelay)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch key {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "defaults.provider":
		return cfg.Defaults.Provider, nil
	case "defaults.model":
		return cfg.Defaults.Model, nil
	case "defaults.api_base_url":
		return cfg.Defaults.APIBaseURL, nil
	case "timeouts.idle":
		return cfg.Timeouts.Idle.String(), nil
	case "timeouts.hard":
		return cfg.Timeouts.Hard.String(), nil
	case "meeting.max_action_items":
		return strconv.Itoa(cfg.Meeting.MaxActionItems), nil
	case "meeting.max_revision_signals":
		return strconv.Itoa(cfg.Meeting.MaxRevisionSignals), nil
	case "worktree.base_dir":
		return cfg.Worktree.BaseDir, nil
	case "resume.min_delay":
		return cfg.Resume.MinDelay.String(), nil
	case "resume.max_delay":
		return cfg.Resume.MaxDelay.String(), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch key {
	case "anthropic.api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return err
		}
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "defaults.provider":
		cfg.Defaults.Provider = value
	case "defaults.model":
		cfg.Defaults.Model = value
	case "defaults.api_base_url":
		cfg.Defaults.APIBaseURL = value
	case "timeouts.idle", "timeouts.hard", "resume.min_delay", "resume.max_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		switch key {
		case "timeouts.idle":
			cfg.Timeouts.Idle = d
		case "timeouts.hard":
			cfg.Timeouts.Hard = d
		case "resume.min_delay":
			cfg.Resume.MinDelay = d
		case "resume.max_delay":
			cfg.Resume.MaxDelay = d
		}
	case "meeting.max_action_items", "meeting.max_revision_signals":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid count %q", value)
		}
		if key == "meeting.max_action_items" {
			cfg.Meeting.MaxActionItems = n
		} else {
			cfg.Meeting.MaxRevisionSignals = n
		}
	case "worktree.base_dir":
		cfg.Worktree.BaseDir = strings.TrimSpace(value)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}
