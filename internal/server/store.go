package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sakif/tripcms/internal/config"
	"github.com/sakif/tripcms/internal/repository"
	"github.com/sakif/tripcms/internal/repository/postgres"
	"github.com/sakif/tripcms/internal/repository/sqlite"
)

// OpenStore opens and migrates the backend selected by cfg.Driver. For
// sqlite the parent directory of the database file is created if needed.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := postgres.New(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return db, nil

	case config.DriverSQLite, "":
		if cfg.Path != ":memory:" {
			dir := filepath.Dir(cfg.Path)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
