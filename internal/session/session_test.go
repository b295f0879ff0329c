package session

import (
	"testing"

	"github.com/buildersync/chat-core/internal/identity"
)

func TestSessionIdentity(t *testing.T) {
	s := &Session{
		ID:     "abc",
		Role:   "client",
		UserID: "c1",
	}

	want := identity.Identity{Role: identity.RoleClient, ID: "c1"}
	if got := s.Identity(); got != want {
		t.Fatalf("Identity() = %v, want %v", got, want)
	}
}
