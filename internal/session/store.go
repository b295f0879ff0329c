package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buildersync/chat-core/internal/identity"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis. Active
	// sessions refresh it on every inbound message.
	SessionTTL = 1 * time.Hour
)

// Session is the Redis-backed record of one live WebSocket connection.
type Session struct {
	ID         string `redis:"id"`
	Role       string `redis:"role"`
	UserID     string `redis:"user_id"`
	Server     string `redis:"server"` // which chat server instance
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// Identity returns the identity the session was authenticated as.
func (s *Session) Identity() identity.Identity {
	return identity.Identity{Role: identity.Role(s.Role), ID: s.UserID}
}

// Store manages session records in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new session record with a 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID string, ident identity.Identity) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	record := map[string]interface{}{
		"id":          sessionID,
		"role":        string(ident.Role),
		"user_id":     ident.ID,
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var record Session
	err := s.client.HGetAll(ctx, key).Scan(&record)
	if err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, nil // not found
	}
	return &record, nil
}

// Touch updates last_active and refreshes the TTL.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session record.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
