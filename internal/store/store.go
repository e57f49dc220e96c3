// Package store provides storage backends for RunPipe.
//
// It keeps the data sources saved through the API and a log of the data
// pulls made against them. An in-memory store is used when no database DSN
// is configured; SQLite and PostgreSQL are supported for persistence.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/RunPipe/internal/models"
)

// ErrSourceNotFound is returned when a source id does not exist.
var ErrSourceNotFound = errors.New("source not found")

// Store is the persistence interface used by the API server.
type Store interface {
	// SaveSource inserts or replaces a source.
	SaveSource(src models.Source) error
	// GetSource returns ErrSourceNotFound for an unknown id.
	GetSource(id string) (*models.Source, error)
	// ListSources returns all sources, oldest first.
	ListSources() ([]models.Source, error)
	// DeleteSource removes a source and its pull log.
	DeleteSource(id string) error
	// AddPull appends to the pull log.
	AddPull(p models.Pull) error
	// GetPulls returns pulls for sourceID (all pulls if empty), oldest first.
	GetPulls(sourceID string) ([]models.Pull, error)
	// Ping checks the backend is reachable.
	Ping() error
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN  string
	Type string // "postgres" or "sqlite"
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = "postgres"
	}
}

// WithSQLiteDSN sets the path of an SQLite database file.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = "sqlite"
	}
}

// DetectDSNType returns "postgres" for PostgreSQL URLs and keyword DSNs and
// "sqlite" for anything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Open returns the store selected by opts: in-memory when no DSN is set.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return NewInMemoryStore(), nil
	}
	if cfg.Type == "" {
		cfg.Type = DetectDSNType(cfg.DSN)
	}
	if cfg.Type == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// InMemoryStore keeps sources and pulls in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	sources map[string]models.Source
	pulls   []models.Pull
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sources: make(map[string]models.Source)}
}

func (s *InMemoryStore) SaveSource(src models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
	return nil
}

func (s *InMemoryStore) GetSource(id string) (*models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, ErrSourceNotFound
	}
	return &src, nil
}

func (s *InMemoryStore) ListSources() ([]models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sources := make([]models.Source, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].CreatedAt.Equal(sources[j].CreatedAt) {
			return sources[i].ID < sources[j].ID
		}
		return sources[i].CreatedAt.Before(sources[j].CreatedAt)
	})
	return sources, nil
}

func (s *InMemoryStore) DeleteSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return ErrSourceNotFound
	}
	delete(s.sources, id)
	kept := s.pulls[:0]
	for _, p := range s.pulls {
		if p.SourceID != id {
			kept = append(kept, p)
		}
	}
	s.pulls = kept
	return nil
}

func (s *InMemoryStore) AddPull(p models.Pull) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls = append(s.pulls, p)
	return nil
}

func (s *InMemoryStore) GetPulls(sourceID string) ([]models.Pull, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pulls := []models.Pull{}
	for _, p := range s.pulls {
		if sourceID == "" || p.SourceID == sourceID {
			pulls = append(pulls, p)
		}
	}
	return pulls, nil
}

func (s *InMemoryStore) Ping() error  { return nil }
func (s *InMemoryStore) Close() error { return nil }
