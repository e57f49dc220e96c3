package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Base URL presets offered by the setup wizard.
const (
	// BaseURLRapidPro is the hosted RapidPro installation.
	BaseURLRapidPro = "https://app.rapidpro.io"
	// BaseURLTextIt is the hosted TextIt installation.
	BaseURLTextIt = "https://textit.in"
	// BaseURLOther is the sentinel preset meaning "use CustomURL".
	BaseURLOther = "other"
)

// Error variables for configuration validation
var (
	ErrMissingBaseURL   = errors.New("base URL is required")
	ErrMissingCustomURL = errors.New("custom base URL is required when base URL is \"other\"")
	ErrMissingAPIToken  = errors.New("API token is required")
	ErrMissingFlowUUID  = errors.New("flow is required")
	ErrInvalidFlowUUID  = errors.New("flow UUID is not valid")
)

// ConnectionConfig is everything needed to talk to one RapidPro account and
// read runs for one of its flows. An empty string means the value has not
// been provided yet.
type ConnectionConfig struct {
	BasePreset string `json:"base_url" yaml:"base_url"`
	CustomURL  string `json:"custom_url,omitempty" yaml:"custom_url,omitempty"`
	APIToken   string `json:"api_token" yaml:"api_token"`
	FlowUUID   string `json:"flow_uuid" yaml:"flow_uuid"`
}

// BaseURL returns the base URL all API calls are made against: CustomURL when
// the preset is BaseURLOther, otherwise the preset verbatim. It does not check
// the URL is well formed.
func (c ConnectionConfig) BaseURL() string {
	if c.BasePreset == BaseURLOther {
		return c.CustomURL
	}
	return c.BasePreset
}

// ValidateAccount checks the fields needed to call the API at all.
func (c ConnectionConfig) ValidateAccount() error {
	if c.BasePreset == "" {
		return ErrMissingBaseURL
	}
	if c.BasePreset == BaseURLOther && c.CustomURL == "" {
		return ErrMissingCustomURL
	}
	if c.APIToken == "" {
		return ErrMissingAPIToken
	}
	return nil
}

// Validate checks that the configuration is complete and that the flow UUID
// is well formed.
func (c ConnectionConfig) Validate() error {
	if err := c.ValidateAccount(); err != nil {
		return err
	}
	if c.FlowUUID == "" {
		return ErrMissingFlowUUID
	}
	if _, err := uuid.Parse(c.FlowUUID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidFlowUUID, c.FlowUUID)
	}
	return nil
}

// Redacted returns a copy safe to log or return to clients.
func (c ConnectionConfig) Redacted() ConnectionConfig {
	if c.APIToken != "" {
		c.APIToken = "********"
	}
	return c
}
