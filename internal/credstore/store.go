package credstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/auth"
)

// Key is the storage key the identity is kept under.
const Key = "hms.identity"

// Store is the persistence contract used by the session manager.
type Store interface {
	// Load returns the stored identity, or false if none is usable.
	Load() (*auth.Identity, bool)

	// Save replaces the stored identity.
	Save(ident auth.Identity) error

	// Clear removes the stored identity. Clearing an empty store is not an error.
	Clear() error
}

// Sentinel errors.
var (
	ErrCorrupt        = errors.New("credstore: stored identity is corrupt")
	ErrUnknownBackend = errors.New("credstore: unknown backend")
)

// encode serialises an identity, refusing partial records.
func encode(ident auth.Identity) ([]byte, error) {
	if err := ident.Validate(); err != nil {
		return nil, fmt.Errorf("saving identity: %w", err)
	}
	data, err := json.Marshal(ident)
	if err != nil {
		return nil, fmt.Errorf("encoding identity: %w", err)
	}
	return data, nil
}

// decode parses a stored value. Anything that does not yield a complete
// identity is reported as ErrCorrupt.
func decode(data []byte) (*auth.Identity, error) {
	ident, err := auth.DecodeIdentity(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return ident, nil
}
