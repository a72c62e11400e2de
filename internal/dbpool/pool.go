package dbpool

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/telar-co/promo-server/internal/config"
)

// SharedPool manages a single shared PostgreSQL connection pool. The
// promo repositories all run against the same pool to keep the
// connection count bounded on managed Postgres plans.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool opens and verifies a shared PostgreSQL connection pool.
func NewSharedPool(connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &SharedPool{db: db}, nil
}

// DB returns the underlying *sql.DB for use by repositories.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the shared connection pool. Safe to call once at shutdown.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
