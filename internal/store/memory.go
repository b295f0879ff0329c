package store

import (
	"context"
	"sync"
	"time"

	"github.com/buildersync/chat-core/internal/chat"
	"github.com/buildersync/chat-core/internal/identity"
)

// MemoryStore is an in-process MessageStore. Rooms are created implicitly on
// first append and never removed.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomLog
	now   func() time.Time
}

type roomLog struct {
	msgs   []chat.Message
	lastTs time.Time
}

// NewMemoryStore creates an empty in-memory message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*roomLog),
		now:   time.Now,
	}
}

// Append implements MessageStore. Timestamps are clamped to be non-decreasing
// within a room even if the wall clock steps backwards.
func (s *MemoryStore) Append(ctx context.Context, room string, draft chat.Draft) (*chat.Message, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.rooms[room]
	if !ok {
		log = &roomLog{}
		s.rooms[room] = log
	}

	ts := s.now()
	if ts.Before(log.lastTs) {
		ts = log.lastTs
	}
	log.lastTs = ts

	msg := chat.Message{
		Room:      room,
		Seq:       int64(len(log.msgs)) + 1,
		Sender:    draft.Sender,
		Body:      draft.Body,
		FileURL:   draft.FileURL,
		Timestamp: ts,
		ReadBy:    []identity.Identity{},
	}
	log.msgs = append(log.msgs, msg)

	out := cloneMessage(&msg)
	return out, nil
}

// History implements MessageStore. The returned page is a snapshot; later
// appends and read receipts do not mutate it.
func (s *MemoryStore) History(ctx context.Context, room string, opts HistoryOptions) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.limit()
	page := make([]chat.Message, 0, limit)

	log, ok := s.rooms[room]
	if !ok {
		return page, nil
	}

	if opts.NewestFirst {
		cursor := opts.Cursor
		if cursor == 0 {
			cursor = int64(len(log.msgs)) + 1
		}
		for i := len(log.msgs) - 1; i >= 0 && len(page) < limit; i-- {
			if log.msgs[i].Seq < cursor {
				page = append(page, *cloneMessage(&log.msgs[i]))
			}
		}
		return page, nil
	}

	for i := range log.msgs {
		if len(page) == limit {
			break
		}
		if log.msgs[i].Seq > opts.Cursor {
			page = append(page, *cloneMessage(&log.msgs[i]))
		}
	}
	return page, nil
}

// MarkRead implements MessageStore.
func (s *MemoryStore) MarkRead(ctx context.Context, room string, seq int64, reader identity.Identity) (*chat.Message, error) {
	if err := reader.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.rooms[room]
	if !ok || seq < 1 || seq > int64(len(log.msgs)) {
		return nil, ErrNotFound
	}

	msg := &log.msgs[seq-1]
	if !msg.IsReadBy(reader) {
		msg.ReadBy = append(msg.ReadBy, reader)
	}
	return cloneMessage(msg), nil
}

func cloneMessage(m *chat.Message) *chat.Message {
	out := *m
	out.ReadBy = append([]identity.Identity(nil), m.ReadBy...)
	return &out
}
