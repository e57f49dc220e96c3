// Package store provides storage backends for RunPipe.
//
// This file implements a PostgreSQL-backed store for sources and pulls.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/RunPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveSource(src models.Source) error {
	configJSON, err := encodeJSON(src.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config for source %s: %w", src.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO sources (`+sourceColumns+`) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, config_json = EXCLUDED.config_json, updated_at = EXCLUDED.updated_at`,
		src.ID, src.Name, configJSON, src.CreatedAt, src.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSource failed", "error", err, "id", src.ID)
		return fmt.Errorf("failed to save source %s: %w", src.ID, err)
	}
	slog.Debug("PostgresStore SaveSource succeeded", "id", src.ID)
	return nil
}

func (s *PostgresStore) GetSource(id string) (*models.Source, error) {
	src, err := scanSource(s.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSource not found", "id", id)
		return nil, ErrSourceNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSource failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return &src, nil
}

func (s *PostgresStore) ListSources() ([]models.Source, error) {
	rows, err := s.db.Query(`SELECT ` + sourceColumns + ` FROM sources ORDER BY created_at, id`)
	if err != nil {
		slog.Error("PostgresStore ListSources query failed", "error", err)
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	sources, err := collectSources(rows)
	if err != nil {
		slog.Error("PostgresStore ListSources failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore ListSources succeeded", "count", len(sources))
	return sources, nil
}

func (s *PostgresStore) DeleteSource(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM pulls WHERE source_id = $1`, id); err != nil {
		slog.Error("PostgresStore DeleteSource pulls failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete pulls of source %s: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteSource failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete source %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSourceNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of source %s: %w", id, err)
	}
	slog.Debug("PostgresStore DeleteSource succeeded", "id", id)
	return nil
}

func (s *PostgresStore) AddPull(p models.Pull) error {
	fieldsJSON, err := encodeJSON(p.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields for pull %s: %w", p.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO pulls (`+pullColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.SourceID, fieldsJSON, p.Rows, p.Pages, p.Status, nilIfEmpty(p.Error), p.StartedAt, p.FinishedAt)
	if err != nil {
		slog.Error("PostgresStore AddPull failed", "error", err, "source_id", p.SourceID)
		return fmt.Errorf("failed to insert pull for source %s: %w", p.SourceID, err)
	}
	slog.Debug("PostgresStore AddPull succeeded", "id", p.ID, "source_id", p.SourceID, "status", p.Status)
	return nil
}

func (s *PostgresStore) GetPulls(sourceID string) ([]models.Pull, error) {
	var rows *sql.Rows
	var err error
	if sourceID == "" {
		rows, err = s.db.Query(`SELECT ` + pullColumns + ` FROM pulls ORDER BY started_at, id`)
	} else {
		rows, err = s.db.Query(`SELECT `+pullColumns+` FROM pulls WHERE source_id = $1 ORDER BY started_at, id`, sourceID)
	}
	if err != nil {
		slog.Error("PostgresStore GetPulls query failed", "error", err)
		return nil, fmt.Errorf("failed to query pulls: %w", err)
	}
	pulls, err := collectPulls(rows)
	if err != nil {
		slog.Error("PostgresStore GetPulls failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore GetPulls succeeded", "count", len(pulls))
	return pulls, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping() error {
	return s.db.Ping()
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
