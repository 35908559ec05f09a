package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Role represents an authorisation tier in the console.
type Role string

const (
	// RoleElevatedAdmin manages every tenant. Not bound to a tenant.
	RoleElevatedAdmin Role = "elevated-admin"

	// RoleTenantOwner owns one tenant (hostel) and manages its staff.
	RoleTenantOwner Role = "tenant-owner"

	// RoleTenantStaff operates a single tenant day to day.
	RoleTenantStaff Role = "tenant-staff"
)

// ValidRoles is the set of roles an Identity may carry.
var ValidRoles = []Role{RoleElevatedAdmin, RoleTenantOwner, RoleTenantStaff}

// IsValid returns true if r is one of ValidRoles.
func (r Role) IsValid() bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// ID is an opaque identifier. The backend sends user and tenant ids either as
// JSON strings or as JSON numbers; both decode to the same textual form.
type ID string

// UnmarshalJSON accepts "42", 42 and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Int64 returns the numeric form of the id, when it has one.
func (id ID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Identity is the authenticated operator record held by the console.
//
// An Identity is either fully populated or absent: callers only ever see
// records that pass Validate.
type Identity struct {
	ID       ID     `json:"id"`
	Name     string `json:"name,omitempty"`
	Role     Role   `json:"role"`
	TenantID *ID    `json:"tenant_id"`
}

// Validate reports whether the identity is complete enough to expose.
// The display name is optional; id and role are not.
func (i *Identity) Validate() error {
	if i == nil {
		return ErrIdentityIncomplete
	}
	if i.ID == "" {
		return fmt.Errorf("%w: missing id", ErrIdentityIncomplete)
	}
	if !i.Role.IsValid() {
		return fmt.Errorf("%w: unknown role %q", ErrIdentityIncomplete, i.Role)
	}
	if i.TenantID != nil && *i.TenantID == "" {
		return fmt.Errorf("%w: empty tenant reference", ErrIdentityIncomplete)
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.TenantID != nil {
		t := *i.TenantID
		c.TenantID = &t
	}
	return &c
}

// Equal reports whether two identities describe the same record.
func (i *Identity) Equal(o *Identity) bool {
	if i == nil || o == nil {
		return i == o
	}
	if i.ID != o.ID || i.Name != o.Name || i.Role != o.Role {
		return false
	}
	if i.TenantID == nil || o.TenantID == nil {
		return i.TenantID == o.TenantID
	}
	return *i.TenantID == *o.TenantID
}

// Tenant returns the tenant reference, or "" for tenant-less identities.
func (i *Identity) Tenant() ID {
	if i == nil || i.TenantID == nil {
		return ""
	}
	return *i.TenantID
}

// Sentinel errors for identity handling.
var (
	ErrIdentityIncomplete = errors.New("auth: identity incomplete")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrTokenNoExpiry      = errors.New("auth: token has no expiry")
)
