package ledger

import (
	"context"
	"fmt"
	"time"
)

// Store is shared persistence for usage records. Since with an empty
// userID returns records for all users.
type Store interface {
	Insert(ctx context.Context, r Record) error
	Since(ctx context.Context, userID string, since time.Time) ([]Record, error)
	Close() error
}

// StoreConfig selects and configures a Store backend.
type StoreConfig struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
}

// NewStore creates a usage store for the configured driver.
func NewStore(cfg StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "sqlite3":
		return NewSQLiteStore(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported ledger driver: %s", cfg.Driver)
	}
}
