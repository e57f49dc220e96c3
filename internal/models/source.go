package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for stored sources
const (
	// MaxSourceNameLength defines the maximum allowed length for a source name
	MaxSourceNameLength = 200
)

var (
	ErrEmptySourceName   = errors.New("source name cannot be empty")
	ErrSourceNameTooLong = errors.New("source name exceeds maximum length")
)

// Source is a named, completed connection configuration kept by the host
// adapter so reports can be refreshed without walking the wizard again.
type Source struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Config    ConnectionConfig `json:"config"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Validate checks the name and that the configuration is complete.
func (s *Source) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return ErrEmptySourceName
	}
	if len(name) > MaxSourceNameLength {
		return ErrSourceNameTooLong
	}
	return s.Config.Validate()
}

// PullStatus is the outcome of a data pull.
type PullStatus string

const (
	// PullStatusOK indicates every page was fetched and mapped.
	PullStatusOK PullStatus = "ok"
	// PullStatusFailed indicates the pull was abandoned; no rows were returned.
	PullStatusFailed PullStatus = "failed"
)

// Pull records one data request made against a stored source.
type Pull struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"source_id"`
	Fields     []string   `json:"fields"`
	Rows       int        `json:"rows"`
	Pages      int        `json:"pages"`
	Status     PullStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}
