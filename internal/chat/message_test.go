package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildersync/chat-core/internal/identity"
)

var sender = identity.Identity{Role: identity.RoleClient, ID: "c1"}

func TestDraftValidate(t *testing.T) {
	tests := []struct {
		name    string
		draft   Draft
		wantErr error
	}{
		{"text message", Draft{Sender: sender, Body: "hello"}, nil},
		{"file share", Draft{Sender: sender, FileURL: "https://files/blueprint.pdf"}, nil},
		{"both body and file", Draft{Sender: sender, Body: "hi", FileURL: "https://files/a"}, ErrConflictingContent},
		{"neither body nor file", Draft{Sender: sender}, ErrNoContent},
		{"invalid sender", Draft{Body: "hello"}, identity.ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateBodyLimits(t *testing.T) {
	req := require.New(t)

	req.Error(ValidateBody(""))
	req.NoError(ValidateBody("a perfectly ordinary message"))
	req.Error(ValidateBody(strings.Repeat("x", MaxBodyBytes+1)))
	// Multi-byte runes can exceed the character cap below the byte cap.
	req.Error(ValidateBody(strings.Repeat("é", MaxBodyChars+1)))
	req.Error(ValidateBody(string([]byte{0xff, 0xfe})))
}

func TestIsReadBy(t *testing.T) {
	req := require.New(t)

	reader := identity.Identity{Role: identity.RoleStaff, ID: "s1"}
	m := &Message{ReadBy: []identity.Identity{reader}}

	req.True(m.IsReadBy(reader))
	req.False(m.IsReadBy(sender))
}
