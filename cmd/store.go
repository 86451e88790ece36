//go:build !integration

package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-engine/internal/repository"
)

// initStore opens the configured backend. Postgres support only exists
// under the integration build tag (internal/repository/postgres.go is
// gated the same way) — a plain `go build` only ever wires SQLite.
func initStore(ctx context.Context) (repository.Repository, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		return repository.NewSQLite(dsn)
	case "postgres":
		return nil, eris.New("postgres store requires building with -tags integration")
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
