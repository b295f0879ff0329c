package room

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildersync/chat-core/internal/identity"
)

func TestIDCommutative(t *testing.T) {
	req := require.New(t)

	pairs := []struct{ a, b identity.Identity }{
		{identity.Identity{Role: identity.RoleClient, ID: "c1"}, identity.Identity{Role: identity.RoleCompany, ID: "m1"}},
		{identity.Identity{Role: identity.RoleStaff, ID: "s1"}, identity.Identity{Role: identity.RoleStaff, ID: "s2"}},
		{identity.Identity{Role: identity.RoleCompany, ID: "zzz"}, identity.Identity{Role: identity.RoleClient, ID: "aaa"}},
	}

	for _, p := range pairs {
		ab, err := ID(p.a, p.b)
		req.NoError(err)
		ba, err := ID(p.b, p.a)
		req.NoError(err)
		req.Equal(ab, ba, "room id must not depend on argument order")
	}
}

func TestIDRejectsInvalid(t *testing.T) {
	req := require.New(t)

	valid := identity.Identity{Role: identity.RoleClient, ID: "c1"}

	_, err := ID(valid, identity.Identity{})
	req.ErrorIs(err, identity.ErrInvalid)

	_, err = ID(identity.Identity{Role: "bogus", ID: "x"}, valid)
	req.ErrorIs(err, identity.ErrInvalid)

	_, err = ID(valid, valid)
	req.ErrorIs(err, identity.ErrInvalid)
}

func TestParseAndMembership(t *testing.T) {
	req := require.New(t)

	a := identity.Identity{Role: identity.RoleClient, ID: "c1"}
	b := identity.Identity{Role: identity.RoleCompany, ID: "m1"}
	rid, err := ID(b, a)
	req.NoError(err)

	pa, pb, err := Parse(rid)
	req.NoError(err)
	req.True(pa.Less(pb))
	req.ElementsMatch([]identity.Identity{a, b}, []identity.Identity{pa, pb})

	req.True(IsMember(rid, a))
	req.True(IsMember(rid, b))
	req.False(IsMember(rid, identity.Identity{Role: identity.RoleStaff, ID: "s1"}))
	req.False(IsMember("garbage", a))

	req.Equal(b, Partner(rid, a))
	req.Equal(a, Partner(rid, b))
	req.True(Partner(rid, identity.Identity{Role: identity.RoleStaff, ID: "s1"}).IsZero())
}

func TestParseRejectsNonCanonical(t *testing.T) {
	a := identity.Identity{Role: identity.RoleClient, ID: "c1"}
	b := identity.Identity{Role: identity.RoleCompany, ID: "m1"}

	// Reversed order is not a valid canonical id.
	_, _, err := Parse(b.String() + "__" + a.String())
	require.ErrorIs(t, err, identity.ErrInvalid)
}
