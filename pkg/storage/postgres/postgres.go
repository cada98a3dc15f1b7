// Package postgres implements the storage interfaces on PostgreSQL.
//
// Every read and mutation of scoped resources takes a visibility predicate
// and compiles it into the statement's WHERE clause, so an out-of-scope row
// is indistinguishable from an absent one at this layer already.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/observability"
	"github.com/labcontrol/labcontrol/pkg/storage"
)

// Store is the PostgreSQL-backed implementation of storage.Store.
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics

	// userCache holds recently resolved users by ID. Entries are evicted on
	// any mutation of the user, so a deactivation takes effect immediately.
	userCache *lru.Cache[string, *auth.User]
}

// New connects to PostgreSQL and verifies connectivity. metrics may be nil.
func New(cfg storage.Config, metrics *observability.Metrics) (*Store, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresMinConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	timeout := cfg.PostgresTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return newWithDB(db, cfg.UserCacheSize, metrics)
}

// NewWithDB wraps an existing connection. Used by tests with sqlmock.
func NewWithDB(db *sql.DB, metrics *observability.Metrics) (*Store, error) {
	return newWithDB(db, 0, metrics)
}

func newWithDB(db *sql.DB, cacheSize int, metrics *observability.Metrics) (*Store, error) {
	s := &Store{db: db, metrics: metrics}
	if cacheSize > 0 {
		cache, err := lru.New[string, *auth.User](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create user cache: %w", err)
		}
		s.userCache = cache
	}
	return s, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unhealthy: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.StorageOperationsTotal.WithLabelValues(operation, "postgres", status).Inc()
}
