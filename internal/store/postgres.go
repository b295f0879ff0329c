package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/buildersync/chat-core/internal/chat"
	"github.com/buildersync/chat-core/internal/identity"
)

// PostgresStore is the production MessageStore. Sequence numbers are assigned
// from a per-room head counter inside the append transaction, so they stay
// strictly increasing and gapless even with multiple chat servers appending
// to the same room.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool to Postgres and verifies it.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: postgres ping: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Append implements MessageStore.
func (s *PostgresStore) Append(ctx context.Context, room string, draft chat.Draft) (*chat.Message, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO room_heads (room, seq) VALUES ($1, 1)
		ON CONFLICT (room) DO UPDATE SET seq = room_heads.seq + 1
		RETURNING seq`, room).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("%w: advance head for room %s: %v", ErrUnavailable, room, err)
	}

	var body, fileURL sql.NullString
	if draft.IsFile() {
		fileURL = sql.NullString{String: draft.FileURL, Valid: true}
	} else {
		body = sql.NullString{String: draft.Body, Valid: true}
	}

	var ts time.Time
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (room, seq, sender, body, file_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ts`, room, seq, draft.Sender.String(), body, fileURL).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("%w: insert message room=%s seq=%d: %v", ErrUnavailable, room, seq, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}

	return &chat.Message{
		Room:      room,
		Seq:       seq,
		Sender:    draft.Sender,
		Body:      draft.Body,
		FileURL:   draft.FileURL,
		Timestamp: ts,
		ReadBy:    []identity.Identity{},
	}, nil
}

// History implements MessageStore.
func (s *PostgresStore) History(ctx context.Context, room string, opts HistoryOptions) ([]chat.Message, error) {
	limit := opts.limit()

	var rows *sql.Rows
	var err error
	if opts.NewestFirst {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, sender, body, file_url, ts, read_by
			FROM messages
			WHERE room = $1 AND ($2::bigint = 0 OR seq < $2)
			ORDER BY seq DESC
			LIMIT $3`, room, opts.Cursor, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, sender, body, file_url, ts, read_by
			FROM messages
			WHERE room = $1 AND seq > $2
			ORDER BY seq ASC
			LIMIT $3`, room, opts.Cursor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: history room=%s: %v", ErrUnavailable, room, err)
	}
	defer rows.Close()

	page := make([]chat.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows, room)
		if err != nil {
			return nil, err
		}
		page = append(page, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: history rows room=%s: %v", ErrUnavailable, room, err)
	}
	return page, nil
}

// MarkRead implements MessageStore. The conditional array_append makes the
// update idempotent; calling it twice for the same reader leaves read_by
// unchanged.
func (s *PostgresStore) MarkRead(ctx context.Context, room string, seq int64, reader identity.Identity) (*chat.Message, error) {
	if err := reader.Validate(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE messages
		SET read_by = array_append(read_by, $3)
		WHERE room = $1 AND seq = $2 AND NOT ($3 = ANY(read_by))
		RETURNING seq, sender, body, file_url, ts, read_by`,
		room, seq, reader.String())

	msg, err := scanMessage(row, room)
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Either the message does not exist or the reader was already present.
	row = s.db.QueryRowContext(ctx, `
		SELECT seq, sender, body, file_url, ts, read_by
		FROM messages WHERE room = $1 AND seq = $2`, room, seq)
	msg, err = scanMessage(row, room)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, room string) (*chat.Message, error) {
	var (
		seq     int64
		sender  string
		body    sql.NullString
		fileURL sql.NullString
		ts      time.Time
		readBy  pq.StringArray
	)
	if err := row.Scan(&seq, &sender, &body, &fileURL, &ts, &readBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan message: %v", ErrUnavailable, err)
	}

	senderIdent, err := identity.Parse(sender)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt sender %q: %v", ErrUnavailable, sender, err)
	}
	readers, err := decodeReadBy(readBy)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt read_by: %v", ErrUnavailable, err)
	}

	return &chat.Message{
		Room:      room,
		Seq:       seq,
		Sender:    senderIdent,
		Body:      body.String,
		FileURL:   fileURL.String,
		Timestamp: ts,
		ReadBy:    readers,
	}, nil
}
