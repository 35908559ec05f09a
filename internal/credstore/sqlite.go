package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/database"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/migrations"
)

// opTimeout bounds each store operation. The Store contract is synchronous,
// so there is no caller context to inherit.
const opTimeout = 5 * time.Second

// SQLiteStore keeps the identity as a row in the credential_store table.
type SQLiteStore struct {
	db     *database.DB
	key    string
	logger *logging.Logger
}

// NewSQLiteStore applies the embedded schema to db and returns a store for Key.
func NewSQLiteStore(ctx context.Context, db *database.DB, logger *logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		return nil, fmt.Errorf("migrating credential store: %w", err)
	}
	return &SQLiteStore{
		db:     db,
		key:    Key,
		logger: logger.With("component", "credstore", "backend", "sqlite"),
	}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load() (*auth.Identity, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM credential_store WHERE key = ?", s.key,
	).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("reading stored identity failed", "error", err)
		}
		return nil, false
	}

	ident, err := decode([]byte(value))
	if err != nil {
		s.logger.Warn("discarding corrupt stored identity", "error", err)
		if _, delErr := s.db.ExecContext(ctx, "DELETE FROM credential_store WHERE key = ?", s.key); delErr != nil {
			s.logger.Warn("removing corrupt identity failed", "error", delErr)
		}
		return nil, false
	}
	return ident, true
}

// Save implements Store.
func (s *SQLiteStore) Save(ident auth.Identity) error {
	data, err := encode(ident)
	if err != nil {
		return err
	}
	return s.put(string(data))
}

// put upserts a raw value.
func (s *SQLiteStore) put(value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credential_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, s.key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM credential_store WHERE key = ?", s.key); err != nil {
		return fmt.Errorf("clearing identity: %w", err)
	}
	return nil
}
