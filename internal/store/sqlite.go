// Package store provides storage backends for RunPipe.
//
// This file implements an SQLite-backed store for sources and pulls.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/RunPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection avoids SQLITE_BUSY between concurrent handlers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSource(src models.Source) error {
	configJSON, err := encodeJSON(src.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config for source %s: %w", src.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO sources (`+sourceColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, config_json = excluded.config_json, updated_at = excluded.updated_at`,
		src.ID, src.Name, configJSON, src.CreatedAt, src.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSource failed", "error", err, "id", src.ID)
		return fmt.Errorf("failed to save source %s: %w", src.ID, err)
	}
	slog.Debug("SQLiteStore SaveSource succeeded", "id", src.ID)
	return nil
}

func (s *SQLiteStore) GetSource(id string) (*models.Source, error) {
	src, err := scanSource(s.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSource not found", "id", id)
		return nil, ErrSourceNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSource failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return &src, nil
}

func (s *SQLiteStore) ListSources() ([]models.Source, error) {
	rows, err := s.db.Query(`SELECT ` + sourceColumns + ` FROM sources ORDER BY created_at, id`)
	if err != nil {
		slog.Error("SQLiteStore ListSources query failed", "error", err)
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	sources, err := collectSources(rows)
	if err != nil {
		slog.Error("SQLiteStore ListSources failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore ListSources succeeded", "count", len(sources))
	return sources, nil
}

func (s *SQLiteStore) DeleteSource(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM pulls WHERE source_id = ?`, id); err != nil {
		slog.Error("SQLiteStore DeleteSource pulls failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete pulls of source %s: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteSource failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete source %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSourceNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of source %s: %w", id, err)
	}
	slog.Debug("SQLiteStore DeleteSource succeeded", "id", id)
	return nil
}

func (s *SQLiteStore) AddPull(p models.Pull) error {
	fieldsJSON, err := encodeJSON(p.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields for pull %s: %w", p.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO pulls (`+pullColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SourceID, fieldsJSON, p.Rows, p.Pages, p.Status, nilIfEmpty(p.Error), p.StartedAt, p.FinishedAt)
	if err != nil {
		slog.Error("SQLiteStore AddPull failed", "error", err, "source_id", p.SourceID)
		return fmt.Errorf("failed to insert pull for source %s: %w", p.SourceID, err)
	}
	slog.Debug("SQLiteStore AddPull succeeded", "id", p.ID, "source_id", p.SourceID, "status", p.Status)
	return nil
}

func (s *SQLiteStore) GetPulls(sourceID string) ([]models.Pull, error) {
	var rows *sql.Rows
	var err error
	if sourceID == "" {
		rows, err = s.db.Query(`SELECT ` + pullColumns + ` FROM pulls ORDER BY started_at, id`)
	} else {
		rows, err = s.db.Query(`SELECT `+pullColumns+` FROM pulls WHERE source_id = ? ORDER BY started_at, id`, sourceID)
	}
	if err != nil {
		slog.Error("SQLiteStore GetPulls query failed", "error", err)
		return nil, fmt.Errorf("failed to query pulls: %w", err)
	}
	pulls, err := collectPulls(rows)
	if err != nil {
		slog.Error("SQLiteStore GetPulls failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore GetPulls succeeded", "count", len(pulls))
	return pulls, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
