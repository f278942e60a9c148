package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/EternisAI/silo-relay/internal/db"
)

const DefaultPath = "backend-data.json"

// Open returns the Store selected by config.Backend.
func Open(ctx context.Context, config Config, dbConfig db.Config) (Store, error) {
	switch config.Backend {
	case "", "file":
		path := config.Path
		if path == "" {
			path = DefaultPath
		}
		slog.Info("Using file snapshot store", "path", path)
		return NewFileStore(path), nil

	case "postgres":
		if dbConfig.Url == "" {
			return nil, fmt.Errorf("postgres snapshot backend requires db.url")
		}
		if err := db.RunMigrations(ctx, dbConfig); err != nil {
			return nil, fmt.Errorf("migrate snapshot schema: %w", err)
		}
		pool, err := db.InitDB(ctx, dbConfig)
		if err != nil {
			return nil, err
		}
		slog.Info("Using postgres snapshot store", "schema", dbConfig.Schema)
		return NewPostgresStore(pool), nil

	case "none":
		slog.Warn("Snapshot persistence disabled")
		return NopStore{}, nil

	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", config.Backend)
	}
}
