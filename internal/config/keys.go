package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no Anthropic API key can be resolved. The
// planner collaborator degrades to skip-not-guess behavior in that case.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// GetAPIKey resolves the Anthropic API key for planner and meeting calls.
// The environment variable wins over the config file; a config value that is
// an unexpanded ${...} placeholder counts as unset.
func GetAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}

	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// ValidateAPIKey checks the key's shape only; it never calls out to verify
// the key actually works.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}

	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey renders a key safe for display: the "sk-ant-" prefix, an
// ellipsis, and the last four characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource says where the active API key came from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource reports which source GetAPIKey would use.
func GetAPIKeySource(cfg *Config) KeySource {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return KeySourceEnv
	}

	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}

	return KeySourceNone
}
