// Package presence tracks which identities are currently connected. An
// identity may hold several concurrent sessions (multi-device); the tracker
// keeps a connection count per identity and reports a presence change only on
// the 0->1 and 1->0 transitions, so parallel connects and disconnects never
// flap the published status.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/buildersync/chat-core/internal/identity"
)

// Status is the published presence of an identity.
type Status struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// Event describes a presence transition.
type Event struct {
	Identity identity.Identity `json:"identity"`
	Online   bool              `json:"online"`
	LastSeen time.Time         `json:"last_seen"`
}

// Store persists presence records so contacts can show lastSeen across
// restarts. Records are created on first connection and retained
// indefinitely; the tracker writes only on actual transitions.
type Store interface {
	Set(ctx context.Context, ident identity.Identity, status Status) error
	Get(ctx context.Context, ident identity.Identity) (Status, error)
}

// Tracker counts active connections per identity.
type Tracker struct {
	mu     sync.Mutex
	counts map[identity.Identity]int

	store    Store       // optional
	onChange func(Event) // optional, called outside the lock
	now      func() time.Time
}

// NewTracker creates a Tracker. store may be nil (no persistence) and
// onChange may be nil (no notifications).
func NewTracker(store Store, onChange func(Event)) *Tracker {
	return &Tracker{
		counts:   make(map[identity.Identity]int),
		store:    store,
		onChange: onChange,
		now:      time.Now,
	}
}

// MarkOnline registers one more active connection for ident. It is idempotent
// per connection: callers invoke it exactly once per established session.
func (t *Tracker) MarkOnline(ctx context.Context, ident identity.Identity) error {
	if err := ident.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	t.counts[ident]++
	transition := t.counts[ident] == 1
	t.mu.Unlock()

	if transition {
		t.publish(ctx, ident, true)
	}
	return nil
}

// MarkOffline releases one active connection for ident. The count never goes
// below zero; a spurious extra call is ignored.
func (t *Tracker) MarkOffline(ctx context.Context, ident identity.Identity) error {
	if err := ident.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	n, ok := t.counts[ident]
	if !ok || n == 0 {
		t.mu.Unlock()
		return nil
	}
	t.counts[ident] = n - 1
	transition := n == 1
	t.mu.Unlock()

	if transition {
		t.publish(ctx, ident, false)
	}
	return nil
}

// IsOnline reports whether ident has at least one active connection on this
// server.
func (t *Tracker) IsOnline(ident identity.Identity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[ident] > 0
}

// Status returns the persisted presence record for ident. Without a store it
// falls back to the local connection count.
func (t *Tracker) Status(ctx context.Context, ident identity.Identity) (Status, error) {
	if t.store == nil {
		return Status{Online: t.IsOnline(ident)}, nil
	}
	return t.store.Get(ctx, ident)
}

func (t *Tracker) publish(ctx context.Context, ident identity.Identity, online bool) {
	status := Status{Online: online, LastSeen: t.now()}

	if t.store != nil {
		if err := t.store.Set(ctx, ident, status); err != nil {
			// Presence is advisory; a store hiccup must not break the
			// connection lifecycle.
			log.Printf("[presence] persist %s online=%v: %v", ident, online, err)
		}
	}
	if t.onChange != nil {
		t.onChange(Event{Identity: ident, Online: online, LastSeen: status.LastSeen})
	}
}
