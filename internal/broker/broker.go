// Package broker implements room-scoped event delivery: it persists new
// messages through the message store and fans the results out to every
// session currently subscribed to the room. Typing signals and read receipts
// ride the same fan-out path; typing is never persisted.
//
// The broker is transport-agnostic. Sessions register through the Subscriber
// interface and a server-to-server Bus can be attached for multi-server
// fan-out, so the whole delivery path is testable without a live connection.
package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/buildersync/chat-core/internal/chat"
	"github.com/buildersync/chat-core/internal/identity"
	"github.com/buildersync/chat-core/internal/store"
)

// TypingTTL is how long a typing indicator stays valid without a refresh.
// The broker does not track or cancel indicators; receivers expire them
// client-side after this duration.
const TypingTTL = 3 * time.Second

// Subscriber is a session endpoint able to receive room events. Deliver is
// best-effort: an error means the session is gone and the event is dropped
// silently, never surfaced to the publisher. The session catches up via
// history replay on reconnect.
type Subscriber interface {
	ID() string
	Identity() identity.Identity
	Deliver(ev chat.Event) error
}

// Bus relays room events to the other chat servers. Events received back
// from the bus are applied with ApplyRemote.
type Bus interface {
	PublishEvent(ev chat.Event) error
}

// Broker routes room events between the store, local subscribers, and the
// optional bus.
type Broker struct {
	origin string
	store  store.MessageStore
	bus    Bus // optional

	mu        sync.RWMutex
	rooms     map[string]map[string]Subscriber // room -> session id -> subscriber
	bySession map[string]map[string]struct{}   // session id -> rooms

	lockMu    sync.Mutex
	roomLocks map[string]*sync.Mutex
}

// New creates a Broker. origin identifies this server on the bus; bus may be
// nil for single-server or in-test operation.
func New(origin string, st store.MessageStore, bus Bus) *Broker {
	return &Broker{
		origin:    origin,
		store:     st,
		bus:       bus,
		rooms:     make(map[string]map[string]Subscriber),
		bySession: make(map[string]map[string]struct{}),
		roomLocks: make(map[string]*sync.Mutex),
	}
}

// Subscribe adds sub to the room's fan-out set. Subscribing twice is a no-op.
func (b *Broker) Subscribe(roomID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[roomID]
	if !ok {
		subs = make(map[string]Subscriber)
		b.rooms[roomID] = subs
	}
	subs[sub.ID()] = sub

	sessions, ok := b.bySession[sub.ID()]
	if !ok {
		sessions = make(map[string]struct{})
		b.bySession[sub.ID()] = sessions
	}
	sessions[roomID] = struct{}{}
}

// Unsubscribe removes a session from a room. Unsubscribing a session that is
// not subscribed is a no-op.
func (b *Broker) Unsubscribe(roomID, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(roomID, sessionID)
}

// UnsubscribeAll removes a session from every room it is subscribed to.
// Called on connection drop.
func (b *Broker) UnsubscribeAll(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for roomID := range b.bySession[sessionID] {
		b.removeLocked(roomID, sessionID)
	}
}

func (b *Broker) removeLocked(roomID, sessionID string) {
	if subs, ok := b.rooms[roomID]; ok {
		delete(subs, sessionID)
	}
	if sessions, ok := b.bySession[sessionID]; ok {
		delete(sessions, roomID)
		if len(sessions) == 0 {
			delete(b.bySession, sessionID)
		}
	}
}

// IsSubscribed reports whether the session is currently subscribed to the room.
func (b *Broker) IsSubscribed(roomID, sessionID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.rooms[roomID][sessionID]
	return ok
}

// PublishMessage persists the draft and fans the resulting message out to
// every subscribed session in the room, the sender's own other sessions
// included (multi-device sync). If persistence fails nothing is fanned out
// and the error is returned to the caller.
func (b *Broker) PublishMessage(ctx context.Context, roomID string, draft chat.Draft) (*chat.Message, error) {
	unlock := b.lockRoom(roomID)
	defer unlock()

	msg, err := b.store.Append(ctx, roomID, draft)
	if err != nil {
		return nil, err
	}

	kind := chat.EventMessage
	if draft.IsFile() {
		kind = chat.EventFileShared
	}
	ev := chat.Event{
		Kind:    kind,
		Origin:  b.origin,
		Room:    roomID,
		Message: msg,
	}

	b.fanOut(ev)
	b.relay(ev)
	return msg, nil
}

// PublishFileShared persists a file-reference message. Same contract as
// PublishMessage, distinguished only by payload shape.
func (b *Broker) PublishFileShared(ctx context.Context, roomID string, sender identity.Identity, fileURL string) (*chat.Message, error) {
	return b.PublishMessage(ctx, roomID, chat.Draft{Sender: sender, FileURL: fileURL})
}

// PublishTyping fans a typing signal out to all subscribed sessions except
// the typist's own. Nothing is persisted and no ordering is guaranteed
// relative to messages.
func (b *Broker) PublishTyping(roomID string, typist identity.Identity) {
	ev := chat.Event{
		Kind:   chat.EventTyping,
		Origin: b.origin,
		Room:   roomID,
		Typist: typist,
	}
	b.fanOut(ev)
	b.relay(ev)
}

// PublishReadReceipt records that reader has seen the message and fans the
// updated reader set out to all subscribed sessions, the original sender
// included so delivery ticks update live.
func (b *Broker) PublishReadReceipt(ctx context.Context, roomID string, seq int64, reader identity.Identity) (*chat.Message, error) {
	unlock := b.lockRoom(roomID)
	defer unlock()

	msg, err := b.store.MarkRead(ctx, roomID, seq, reader)
	if err != nil {
		return nil, err
	}

	ev := chat.Event{
		Kind:   chat.EventReadReceipt,
		Origin: b.origin,
		Room:   roomID,
		Seq:    seq,
		Reader: reader,
		ReadBy: msg.ReadBy,
	}
	b.fanOut(ev)
	b.relay(ev)
	return msg, nil
}

// ApplyRemote delivers a bus event to local subscribers. Events this server
// published are skipped; it already fanned them out.
func (b *Broker) ApplyRemote(ev chat.Event) {
	if ev.Origin == b.origin {
		return
	}
	b.fanOut(ev)
}

// fanOut delivers the event to every local subscriber of its room. Typing
// events skip the typist's own sessions. Delivery errors mean the session
// disconnected between the subscription check and the write; they are
// dropped silently.
func (b *Broker) fanOut(ev chat.Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.rooms[ev.Room]))
	for _, sub := range b.rooms[ev.Room] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if ev.Kind == chat.EventTyping && sub.Identity() == ev.Typist {
			continue
		}
		if err := sub.Deliver(ev); err != nil {
			log.Printf("[broker] drop %s event for session=%s room=%s: %v",
				ev.Kind, sub.ID(), ev.Room, err)
		}
	}
}

func (b *Broker) relay(ev chat.Event) {
	if b.bus == nil {
		return
	}
	if err := b.bus.PublishEvent(ev); err != nil {
		log.Printf("[broker] bus publish %s room=%s: %v", ev.Kind, ev.Room, err)
	}
}

// lockRoom serializes store writes per room so sequence assignment stays
// linearized against concurrent publishers on this server.
func (b *Broker) lockRoom(roomID string) func() {
	b.lockMu.Lock()
	l, ok := b.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		b.roomLocks[roomID] = l
	}
	b.lockMu.Unlock()

	l.Lock()
	return l.Unlock
}
