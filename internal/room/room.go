// Package room derives canonical room identifiers from participant pairs.
// A room is a logical channel scoped to exactly two identities; its id is a
// pure function of the pair, so either participant arrives at the same id
// regardless of who initiates contact. Rooms are created implicitly on first
// reference and never destroyed.
package room

import (
	"fmt"
	"strings"

	"github.com/buildersync/chat-core/internal/identity"
)

const separator = "__"

// ID returns the canonical room id for a pair of identities. The pair is
// sorted by (role, id) so that ID(a, b) == ID(b, a). Either identity failing
// validation yields identity.ErrInvalid.
func ID(a, b identity.Identity) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	if err := b.Validate(); err != nil {
		return "", err
	}
	if a == b {
		return "", fmt.Errorf("%w: room requires two distinct identities", identity.ErrInvalid)
	}
	if b.Less(a) {
		a, b = b, a
	}
	return a.String() + separator + b.String(), nil
}

// Parse extracts the two member identities from a canonical room id.
func Parse(roomID string) (identity.Identity, identity.Identity, error) {
	first, second, ok := strings.Cut(roomID, separator)
	if !ok {
		return identity.Identity{}, identity.Identity{}, fmt.Errorf("%w: malformed room id %q", identity.ErrInvalid, roomID)
	}
	a, err := identity.Parse(first)
	if err != nil {
		return identity.Identity{}, identity.Identity{}, err
	}
	b, err := identity.Parse(second)
	if err != nil {
		return identity.Identity{}, identity.Identity{}, err
	}
	if !a.Less(b) {
		return identity.Identity{}, identity.Identity{}, fmt.Errorf("%w: room id %q is not canonical", identity.ErrInvalid, roomID)
	}
	return a, b, nil
}

// IsMember reports whether ident is one of the two participants of roomID.
// Malformed room ids are never a member of anything.
func IsMember(roomID string, ident identity.Identity) bool {
	a, b, err := Parse(roomID)
	if err != nil {
		return false
	}
	return ident == a || ident == b
}

// Partner returns the other participant of the room relative to ident.
// It returns the zero identity if ident is not a member.
func Partner(roomID string, ident identity.Identity) identity.Identity {
	a, b, err := Parse(roomID)
	if err != nil {
		return identity.Identity{}
	}
	switch ident {
	case a:
		return b
	case b:
		return a
	}
	return identity.Identity{}
}
