// Package redis provides Redis-backed adapters for conversation sessions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// ErrNotFound is returned when a session is not found.
var ErrNotFound = errors.New("session not found")

const defaultSessionTTL = 30 * time.Minute

// SessionStore keeps conversation sessions in Redis with a sliding TTL, so
// abandoned conversations expire on their own.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewSessionStore creates a Redis-based session store with the default
// prefix and TTL.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return &SessionStore{
		client: client,
		prefix: "conversation:",
		ttl:    defaultSessionTTL,
	}
}

// NewSessionStoreWithOptions creates a session store with a custom key
// prefix and TTL. Zero values fall back to the defaults.
func NewSessionStoreWithOptions(client redis.UniversalClient, prefix string, ttl time.Duration) *SessionStore {
	if prefix == "" {
		prefix = "conversation:"
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Save writes a session and resets its TTL. Each accepted message extends
// the session's life by the full TTL window.
func (s *SessionStore) Save(ctx context.Context, sess *model.ConversationSession) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.client.Set(ctx, s.prefix+sess.ID, data, s.ttl).Err()
}

// Get loads a session by ID. Expired or unknown sessions yield ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*model.ConversationSession, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var sess model.ConversationSession
	if unmarshalErr := json.Unmarshal([]byte(data), &sess); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}
	return &sess, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+id).Err()
}
