// Package factory builds store.Store instances from configuration without
// making the store package depend on concrete drivers.
package factory

import (
	"fmt"
	"strings"

	"github.com/loykin/termrun/internal/store"
	"github.com/loykin/termrun/internal/store/postgres"
	"github.com/loykin/termrun/internal/store/sqlite"
)

// New creates a store from config. An empty type with a DSN infers the
// backend from the DSN; an empty type without one defaults to sqlite.
func New(cfg store.Config) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "":
		if cfg.DSN != "" {
			return NewFromDSN(cfg.DSN)
		}
		fallthrough
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return sqlite.New(path)
	case "postgres", "postgresql":
		return postgres.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store type: %s (supported: sqlite, postgres)", cfg.Type)
	}
}

// NewFromDSN infers the backend from a DSN: postgres:// selects PostgreSQL,
// anything else is treated as a SQLite path.
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, fmt.Errorf("empty store DSN")
	}
	ld := strings.ToLower(d)
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return postgres.New(d)
	}
	return sqlite.New(strings.TrimPrefix(d, "sqlite://"))
}
