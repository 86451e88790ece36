//go:build integration

package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-engine/internal/repository"
)

// initStore opens the configured backend. The postgres branch only exists
// under the integration build tag, mirroring internal/repository/postgres.go
// itself — SQLite is the only backend available in a plain `go build`.
func initStore(ctx context.Context) (repository.Repository, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		return repository.NewSQLite(dsn)
	case "postgres":
		return repository.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
