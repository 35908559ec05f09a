package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeIdentity parses an identity record. The backend answers /auth/me and
// /auth/login with either the bare record or {"user": {...}}; both are
// accepted. The result always passes Validate.
func DecodeIdentity(data []byte) (*Identity, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrIdentityIncomplete)
	}

	var wrapped struct {
		User *Identity `json:"user"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.User != nil {
		if err := wrapped.User.Validate(); err != nil {
			return nil, err
		}
		return wrapped.User, nil
	}

	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return &ident, nil
}
