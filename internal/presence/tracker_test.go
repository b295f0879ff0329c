package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildersync/chat-core/internal/identity"
)

var carol = identity.Identity{Role: identity.RoleStaff, ID: "carol"}

// eventLog collects presence events under a lock so concurrent transitions
// can be asserted on.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func TestSingleConnectionLifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	store := NewMemoryStore()
	var log eventLog
	tr := NewTracker(store, log.record)

	req.False(tr.IsOnline(carol))

	req.NoError(tr.MarkOnline(ctx, carol))
	req.True(tr.IsOnline(carol))

	status, err := tr.Status(ctx, carol)
	req.NoError(err)
	req.True(status.Online)
	req.False(status.LastSeen.IsZero())

	req.NoError(tr.MarkOffline(ctx, carol))
	req.False(tr.IsOnline(carol))

	status, err = tr.Status(ctx, carol)
	req.NoError(err)
	req.False(status.Online)

	events := log.all()
	req.Len(events, 2)
	req.True(events[0].Online)
	req.False(events[1].Online)
}

func TestFlapSuppression(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	var log eventLog
	tr := NewTracker(nil, log.record)

	// Two concurrent connections from the same identity.
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_ = tr.MarkOnline(ctx, carol)
		}()
	}
	wg.Wait()

	req.True(tr.IsOnline(carol))
	online := 0
	for _, ev := range log.all() {
		if ev.Online {
			online++
		}
	}
	req.Equal(1, online, "two concurrent connects must produce one online transition")

	// Close both; exactly one offline transition, after the second close.
	req.NoError(tr.MarkOffline(ctx, carol))
	req.True(tr.IsOnline(carol), "still one connection open")

	req.NoError(tr.MarkOffline(ctx, carol))
	req.False(tr.IsOnline(carol))

	offline := 0
	for _, ev := range log.all() {
		if !ev.Online {
			offline++
		}
	}
	req.Equal(1, offline)
}

func TestConcurrentChurnBalances(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	tr := NewTracker(nil, nil)

	const sessions = 64
	var wg sync.WaitGroup
	wg.Add(sessions)
	for i := 0; i < sessions; i++ {
		go func() {
			defer wg.Done()
			_ = tr.MarkOnline(ctx, carol)
			_ = tr.MarkOffline(ctx, carol)
		}()
	}
	wg.Wait()

	req.False(tr.IsOnline(carol), "balanced connects/disconnects must end offline")
}

func TestSpuriousOfflineIgnored(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	var log eventLog
	tr := NewTracker(nil, log.record)

	req.NoError(tr.MarkOffline(ctx, carol))
	req.Empty(log.all())

	req.NoError(tr.MarkOnline(ctx, carol))
	req.NoError(tr.MarkOffline(ctx, carol))
	req.NoError(tr.MarkOffline(ctx, carol))
	req.Len(log.all(), 2)
}

func TestRejectsInvalidIdentity(t *testing.T) {
	tr := NewTracker(nil, nil)
	require.ErrorIs(t, tr.MarkOnline(context.Background(), identity.Identity{}), identity.ErrInvalid)
	require.ErrorIs(t, tr.MarkOffline(context.Background(), identity.Identity{}), identity.ErrInvalid)
}
