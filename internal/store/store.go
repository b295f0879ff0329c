// Package store provides the durable, ordered message log the delivery
// broker relies on. Within a room, sequence numbers are strictly increasing
// and assigned at persist time together with the server timestamp; this is
// the sequencing authority for the whole core and the broker never reorders.
//
// Two backends implement the MessageStore interface: PostgresStore for
// production and MemoryStore for tests and single-node development.
package store

import (
	"context"
	"errors"

	"github.com/buildersync/chat-core/internal/chat"
	"github.com/buildersync/chat-core/internal/identity"
)

const (
	// DefaultHistoryLimit is used when a history request does not specify
	// a page size.
	DefaultHistoryLimit = 100

	// MaxHistoryLimit caps a single history page.
	MaxHistoryLimit = 500
)

// ErrUnavailable indicates the persistence layer is down or rejected the
// operation. Callers retry or surface the send as failed; a message is never
// fanned out until persisted.
var ErrUnavailable = errors.New("store: unavailable")

// ErrNotFound indicates a read receipt referenced a message that does not
// exist in the room.
var ErrNotFound = errors.New("store: message not found")

// HistoryOptions selects a page of a room's log.
type HistoryOptions struct {
	// Cursor is a sequence number acting as an exclusive page boundary:
	// oldest-first pages return messages with Seq > Cursor, newest-first
	// pages return messages with Seq < Cursor (0 means "from the end").
	Cursor int64

	// Limit caps the page size; 0 means DefaultHistoryLimit.
	Limit int

	// NewestFirst returns the page in descending sequence order.
	NewestFirst bool
}

func (o HistoryOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return DefaultHistoryLimit
	case o.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return o.Limit
}

// MessageStore is the per-room append log with read-receipt metadata.
type MessageStore interface {
	// Append assigns the next sequence number and the server timestamp,
	// persists the draft, and returns the resulting message. Returns
	// ErrUnavailable on persistence failure.
	Append(ctx context.Context, room string, draft chat.Draft) (*chat.Message, error)

	// History returns a page of the room's log. Pagination is keyset-based
	// on sequence numbers, so a page fetch never skips or duplicates a
	// message under concurrent appends.
	History(ctx context.Context, room string, opts HistoryOptions) ([]chat.Message, error)

	// MarkRead records that reader has seen the message. It is idempotent:
	// a reader already present in the set is a no-op, not an error.
	// Returns ErrNotFound if the sequence does not exist in the room.
	MarkRead(ctx context.Context, room string, seq int64, reader identity.Identity) (*chat.Message, error)
}

func decodeReadBy(raw []string) ([]identity.Identity, error) {
	readers := make([]identity.Identity, 0, len(raw))
	for _, s := range raw {
		ident, err := identity.Parse(s)
		if err != nil {
			return nil, err
		}
		readers = append(readers, ident)
	}
	return readers, nil
}
