package credstore

import (
	"context"
	"fmt"
	"io"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/config"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/database"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
)

// Open builds the store selected by cfg.Backend. The returned closer releases
// any underlying resources and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (Store, io.Closer, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nopCloser{}, nil

	case "file", "":
		return NewFileStore(cfg.Path, logger), nopCloser{}, nil

	case "sqlite":
		db, err := database.Open(database.Config{
			Path:        cfg.Path,
			WALMode:     cfg.WALMode,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening credential database: %w", err)
		}
		store, err := NewSQLiteStore(ctx, db, logger)
		if err != nil {
			db.Close() //nolint:errcheck // Error path
			return nil, nil, err
		}
		return store, db, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
