package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildersync/chat-core/internal/chat"
	"github.com/buildersync/chat-core/internal/identity"
	"github.com/buildersync/chat-core/internal/room"
	"github.com/buildersync/chat-core/internal/store"
)

var (
	alice = identity.Identity{Role: identity.RoleClient, ID: "alice"}
	bob   = identity.Identity{Role: identity.RoleCompany, ID: "bob"}
)

// fakeSession records delivered events; failing=true simulates a session
// that disconnected between the subscription check and the write.
type fakeSession struct {
	id      string
	ident   identity.Identity
	failing bool

	mu     sync.Mutex
	events []chat.Event
}

func (s *fakeSession) ID() string                  { return s.id }
func (s *fakeSession) Identity() identity.Identity { return s.ident }

func (s *fakeSession) Deliver(ev chat.Event) error {
	if s.failing {
		return errors.New("connection reset")
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) received() []chat.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Event(nil), s.events...)
}

// recordingBus captures events relayed for cross-server delivery.
type recordingBus struct {
	mu     sync.Mutex
	events []chat.Event
}

func (b *recordingBus) PublishEvent(ev chat.Event) error {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

// failingStore refuses every append.
type failingStore struct{}

func (failingStore) Append(context.Context, string, chat.Draft) (*chat.Message, error) {
	return nil, store.ErrUnavailable
}
func (failingStore) History(context.Context, string, store.HistoryOptions) ([]chat.Message, error) {
	return nil, store.ErrUnavailable
}
func (failingStore) MarkRead(context.Context, string, int64, identity.Identity) (*chat.Message, error) {
	return nil, store.ErrUnavailable
}

func testRoom(t *testing.T) string {
	t.Helper()
	id, err := room.ID(alice, bob)
	require.NoError(t, err)
	return id
}

func TestPublishMessageFansOutToAllIncludingSenderSessions(t *testing.T) {
	req := require.New(t)
	rid := testRoom(t)
	b := New("srv-1", store.NewMemoryStore(), nil)

	alicePhone := &fakeSession{id: "s1", ident: alice}
	aliceLaptop := &fakeSession{id: "s2", ident: alice}
	bobDesk := &fakeSession{id: "s3", ident: bob}
	for _, s := range []*fakeSession{alicePhone, aliceLaptop, bobDesk} {
		b.Subscribe(rid, s)
	}

	msg, err := b.PublishMessage(context.Background(), rid, chat.Draft{Sender: alice, Body: "hello"})
	req.NoError(err)
	req.Equal(int64(1), msg.Seq)

	// Every session receives it exactly once, the sender's own included.
	for _, s := range []*fakeSession{alicePhone, aliceLaptop, bobDesk} {
		evs := s.received()
		req.Len(evs, 1, "session %s", s.id)
		req.Equal(chat.EventMessage, evs[0].Kind)
		req.Equal(msg.Seq, evs[0].Message.Seq)
	}
}

func TestPublishMessagePersistFailureMeansNoFanOut(t *testing.T) {
	req := require.New(t)
	rid := testRoom(t)
	bus := &recordingBus{}
	b := New("srv-1", failingStore{}, bus)

	sess := &fakeSession{id: "s1", ident: bob}
	b.Subscribe(rid, sess)

	_, err := b.PublishMessage(context.Background(), rid, chat.Draft{Sender: alice, Body: "hello"})
	req.ErrorIs(err, store.ErrUnavailable)
	req.Empty(sess.received(), "nothing may be fanned out before persistence commits")
	req.Empty(bus.events, "nothing may reach the bus before persistence commits")
}

func TestDroppedSessionDoesNotFailPublisher(t *testing.T) {
	req := require.New(t)
	rid := testRoom(t)
	b := New("srv-1", store.NewMemoryStore(), nil)

	healthy := &fakeSession{id: "s1", ident: bob}
	gone := &fakeSession{id: "s2", ident: bob, failing: true}
	b.Subscribe(rid, healthy)
	b.Subscribe(rid, gone)

	_, err := b.PublishMessage(context.Background(), rid, chat.Draft{Sender: alice, Body: "hello"})
	req.NoError(err, "a dropped fan-out target never propagates to the publisher")
	req.Len(healthy.received(), 1)
}

func TestTypingExcludesTypistSessions(t *testing.T) {
	req := require.New(t)
	rid := testRoom(t)
	b := New("srv-1", store.NewMemoryStore(), nil)

	alicePhone := &fakeSession{id: "s1", ident: alice}
	aliceLaptop := &fakeSession{id: "s2", ident: alice}
	bobDesk := &fakeSession{id: "s3", ident: bob}
	for _, s := range []*fakeSession{alicePhone, aliceLaptop, bobDesk} {
		b.Subscribe(rid, s)
	}

	b.PublishTyping(rid, alice)

	req.Empty(alicePhone.received(), "typist's own sessions are excluded")
	req.Empty(aliceLaptop.received())

	evs := bobDesk.received()
	req.Len(evs, 1)
	req.Equal(chat.EventTyping, evs[0].Kind)
	req.Equal(alice, evs[0].Typist)
}

func TestReadReceiptFansOutToSender(t *testing.T) {
	req := require.New(t)
	rid := testRoom(t)
	ctx := context.Background()
	b := New("srv-1", store.NewMemoryStore(), nil)

	aliceSess := &fakeSession{id: "s1", ident: alice}
	bobSess := &fakeSession{id: "s2", ident: bob}
	b.Subscribe(rid, aliceSess)
	b.Subscribe(rid, bobSess)

	msg, err := b.PublishMessage(ctx, rid, chat.Draft{Sender: alice, Body: "hello"})
	req.NoError(err)

	updated, err := b.PublishReadReceipt(ctx, rid, msg.Seq, bob)
	req.NoError(err)
	req.Equal([]identity.Identity{bob}, updated.ReadBy)

	// The sender sees the receipt too.
	evs := aliceSess.received()
	req.Len(evs, 2)
	req.Equal(chat.EventReadReceipt, evs[1].Kind)
	req.Equal(bob, evs[1].Reader)
	req.Equal([]identity.Identity{bob}, evs[1].ReadBy)

	// Receipt on a nonexistent message is a surfaced no-op error.
	_, err = b.PublishReadReceipt(ctx, rid, 99, bob)
	req.ErrorIs(err, store.ErrNotFound)
}

func TestPublishFileShared(t *testing.T) {
	req := require.New(t)
	rid := testRoom(t)
	b := New("srv-1", store.NewMemoryStore(), nil)

	bobSess := &fakeSession{id: "s1", ident: bob}
	b.Subscribe(rid, bobSess)

	msg, err := b.PublishFileShared(context.Background(), rid, alice, "https://files/site-plan.pdf")
	req.NoError(err)
	req.Empty(msg.Body)
	req.Equal("https://files/site-plan.pdf", msg.FileURL)

	evs := bobSess.received()
	req.Len(evs, 1)
	req.Equal(chat.EventFileShared, evs[0].Kind)
}

func TestSubscribeUnsubscribeIdempotent(t *testing.T) {
	req := require.New(t)
	rid := testRoom(t)
	b := New("srv-1", store.NewMemoryStore(), nil)

	sess := &fakeSession{id: "s1", ident: bob}
	b.Subscribe(rid, sess)
	b.Subscribe(rid, sess)
	req.True(b.IsSubscribed(rid, "s1"))

	_, err := b.PublishMessage(context.Background(), rid, chat.Draft{Sender: alice, Body: "once"})
	req.NoError(err)
	req.Len(sess.received(), 1, "double subscribe must not double-deliver")

	b.Unsubscribe(rid, "s1")
	b.Unsubscribe(rid, "s1")
	req.False(b.IsSubscribed(rid, "s1"))

	_, err = b.PublishMessage(context.Background(), rid, chat.Draft{Sender: alice, Body: "twice"})
	req.NoError(err)
	req.Len(sess.received(), 1, "unsubscribed session receives nothing")
}

func TestUnsubscribeAll(t *testing.T) {
	req := require.New(t)
	b := New("srv-1", store.NewMemoryStore(), nil)

	carol := identity.Identity{Role: identity.RoleStaff, ID: "carol"}
	r1, err := room.ID(alice, bob)
	req.NoError(err)
	r2, err := room.ID(alice, carol)
	req.NoError(err)

	sess := &fakeSession{id: "s1", ident: alice}
	b.Subscribe(r1, sess)
	b.Subscribe(r2, sess)

	b.UnsubscribeAll("s1")
	req.False(b.IsSubscribed(r1, "s1"))
	req.False(b.IsSubscribed(r2, "s1"))
}

func TestBusRelayAndRemoteApply(t *testing.T) {
	req := require.New(t)
	rid := testRoom(t)
	bus := &recordingBus{}
	b := New("srv-1", store.NewMemoryStore(), bus)

	sess := &fakeSession{id: "s1", ident: bob}
	b.Subscribe(rid, sess)

	msg, err := b.PublishMessage(context.Background(), rid, chat.Draft{Sender: alice, Body: "hello"})
	req.NoError(err)
	req.Len(bus.events, 1)
	req.Equal("srv-1", bus.events[0].Origin)

	// An echo of our own event from the bus must not double-deliver.
	b.ApplyRemote(bus.events[0])
	req.Len(sess.received(), 1)

	// A remote server's event is delivered locally.
	remote := chat.Event{
		Kind:    chat.EventMessage,
		Origin:  "srv-2",
		Room:    rid,
		Message: &chat.Message{Room: rid, Seq: msg.Seq + 1, Sender: bob, Body: "from elsewhere"},
	}
	b.ApplyRemote(remote)
	evs := sess.received()
	req.Len(evs, 2)
	req.Equal("from elsewhere", evs[1].Message.Body)

	// Remote typing still excludes the typist's local sessions.
	bobSess := &fakeSession{id: "s2", ident: bob}
	b.Subscribe(rid, bobSess)
	b.ApplyRemote(chat.Event{Kind: chat.EventTyping, Origin: "srv-2", Room: rid, Typist: bob})
	req.Empty(bobSess.received())
}

func TestConcurrentPublishersKeepOrder(t *testing.T) {
	req := require.New(t)
	rid := testRoom(t)
	ctx := context.Background()
	b := New("srv-1", store.NewMemoryStore(), nil)

	sess := &fakeSession{id: "s1", ident: bob}
	b.Subscribe(rid, sess)

	const publishers = 8
	const perPublisher = 25

	var wg sync.WaitGroup
	wg.Add(publishers)
	for p := 0; p < publishers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				if _, err := b.PublishMessage(ctx, rid, chat.Draft{Sender: alice, Body: "x"}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	evs := sess.received()
	req.Len(evs, publishers*perPublisher)

	// Fan-out order matches assigned sequence order.
	for i := 1; i < len(evs); i++ {
		req.Equal(evs[i-1].Message.Seq+1, evs[i].Message.Seq)
	}
}
