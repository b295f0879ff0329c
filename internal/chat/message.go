// Package chat defines the message model shared by the store, broker, and
// gateway, along with content validation and the bus event payloads used for
// cross-server fan-out.
package chat

import (
	"errors"
	"time"

	"github.com/buildersync/chat-core/internal/identity"
)

// Message is a single persisted chat entry. Seq and Timestamp are assigned by
// the message store at persist time; client clocks never order messages.
// A message carries either a text body or one file reference, never both.
// ReadBy only grows and never includes the sender implicitly.
type Message struct {
	Room      string              `json:"room"`
	Seq       int64               `json:"seq"`
	Sender    identity.Identity   `json:"sender"`
	Body      string              `json:"body,omitempty"`
	FileURL   string              `json:"file_url,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	ReadBy    []identity.Identity `json:"read_by"`
}

// Draft is a message as submitted by a sender, before the store assigns a
// sequence number and timestamp.
type Draft struct {
	Sender  identity.Identity
	Body    string
	FileURL string
}

// ErrNoContent is returned for a draft carrying neither body nor file.
var ErrNoContent = errors.New("chat: message has no content")

// ErrConflictingContent is returned for a draft carrying both a body and a
// file reference.
var ErrConflictingContent = errors.New("chat: message carries both text and file")

// Validate checks the draft's sender and the body-XOR-file invariant. Text
// bodies are additionally checked against the content limits.
func (d Draft) Validate() error {
	if err := d.Sender.Validate(); err != nil {
		return err
	}
	hasBody := d.Body != ""
	hasFile := d.FileURL != ""
	switch {
	case hasBody && hasFile:
		return ErrConflictingContent
	case !hasBody && !hasFile:
		return ErrNoContent
	case hasBody:
		return ValidateBody(d.Body)
	}
	return nil
}

// IsFile reports whether the draft is a file share rather than a text message.
func (d Draft) IsFile() bool {
	return d.FileURL != ""
}

// IsReadBy reports whether ident has acknowledged reading the message.
func (m *Message) IsReadBy(ident identity.Identity) bool {
	for _, r := range m.ReadBy {
		if r == ident {
			return true
		}
	}
	return false
}
