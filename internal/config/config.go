// Package config loads RapidPro connection settings for the RunPipe CLI.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/RunPipe/internal/models"
)

// Environment variables that override values from the connection file.
const (
	EnvConfigPath = "RUNPIPE_CONFIG"
	EnvBaseURL    = "RAPIDPRO_BASE_URL"
	EnvCustomURL  = "RAPIDPRO_CUSTOM_URL"
	EnvAPIToken   = "RAPIDPRO_API_TOKEN"
	EnvFlowUUID   = "RAPIDPRO_FLOW_UUID"
)

// LoadConnection reads a connection config from a YAML file and applies
// environment overrides. An empty path skips the file. The result is not
// validated; callers decide which fields they need.
func LoadConnection(path string) (models.ConnectionConfig, error) {
	var cfg models.ConnectionConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read connection file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse connection file %s: %w", path, err)
		}
	}

	override(&cfg.BasePreset, EnvBaseURL)
	override(&cfg.CustomURL, EnvCustomURL)
	override(&cfg.APIToken, EnvAPIToken)
	override(&cfg.FlowUUID, EnvFlowUUID)

	slog.Debug("config.LoadConnection: loaded",
		"path", path, "base_url", cfg.BasePreset, "custom_url", cfg.CustomURL,
		"api_token_set", cfg.APIToken != "", "flow_uuid", cfg.FlowUUID)
	return cfg, nil
}

// SaveConnection writes cfg as YAML, creating the parent directory.
// The file holds an API token, so it is written with owner-only permissions.
func SaveConnection(path string, cfg models.ConnectionConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode connection config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write connection file: %w", err)
	}
	return nil
}

// DefaultConnectionPath returns the default location for the connection file.
func DefaultConnectionPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".runpipe", "connection.yaml")
}

func override(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
