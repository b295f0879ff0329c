// Package identity defines the participant reference used throughout the
// messaging core. An identity is an opaque (role, id) pair: the role names
// which side of the platform the participant belongs to (client, company, or
// staff) and the id is the participant's record id in the directory.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the participant category. The set is fixed by the platform.
type Role string

const (
	RoleClient  Role = "client"
	RoleCompany Role = "company"
	RoleStaff   Role = "staff"
)

// ErrInvalid is returned when an identity is missing its role or id, or
// carries a role outside the known set.
var ErrInvalid = errors.New("identity: invalid identity")

// Identity is an opaque participant reference. It is immutable once assigned
// to a session.
type Identity struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleCompany, RoleStaff:
		return true
	}
	return false
}

// Validate checks that the identity carries both a known role and a non-empty
// id. The id must not contain the separator used by String.
func (i Identity) Validate() error {
	if !i.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, i.Role)
	}
	if i.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if strings.ContainsRune(i.ID, ':') {
		return fmt.Errorf("%w: id %q contains reserved character", ErrInvalid, i.ID)
	}
	return nil
}

// IsZero reports whether the identity is the zero value.
func (i Identity) IsZero() bool {
	return i.Role == "" && i.ID == ""
}

// String returns the canonical "role:id" form.
func (i Identity) String() string {
	return string(i.Role) + ":" + i.ID
}

// Less orders identities by (role, id) lexicographically. It is the sort
// order used to derive canonical room ids.
func (i Identity) Less(other Identity) bool {
	if i.Role != other.Role {
		return i.Role < other.Role
	}
	return i.ID < other.ID
}

// Parse decodes the "role:id" form produced by String.
func Parse(s string) (Identity, error) {
	role, id, ok := strings.Cut(s, ":")
	if !ok {
		return Identity{}, fmt.Errorf("%w: malformed %q", ErrInvalid, s)
	}
	ident := Identity{Role: Role(role), ID: id}
	if err := ident.Validate(); err != nil {
		return Identity{}, err
	}
	return ident, nil
}
