package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buildersync/chat-core/internal/identity"
)

// KeyPrefix is the Redis key prefix for presence hashes.
const KeyPrefix = "presence:"

// RedisStore persists presence records as Redis hashes:
//
//	Key:    presence:<role>:<id>
//	Fields: online ("0"/"1"), last_seen (unix seconds)
//
// Keys carry no TTL; presence is sized by the number of identities ever seen,
// not by connection count.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a presence store on an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, ident identity.Identity, status Status) error {
	key := KeyPrefix + ident.String()
	online := "0"
	if status.Online {
		online = "1"
	}
	err := s.client.HSet(ctx, key,
		"online", online,
		"last_seen", status.LastSeen.Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("presence: set %s: %w", ident, err)
	}
	return nil
}

// Get implements Store. An identity never seen before reads as offline with
// a zero lastSeen.
func (s *RedisStore) Get(ctx context.Context, ident identity.Identity) (Status, error) {
	key := KeyPrefix + ident.String()
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Status{}, fmt.Errorf("presence: get %s: %w", ident, err)
	}
	if len(fields) == 0 {
		return Status{}, nil
	}

	var status Status
	status.Online = fields["online"] == "1"
	if raw, ok := fields["last_seen"]; ok {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			status.LastSeen = time.Unix(secs, 0)
		}
	}
	return status, nil
}
