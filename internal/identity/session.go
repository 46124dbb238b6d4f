package identity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is the record of an authenticated user. Zero or one per user.
type Session struct {
	Token     string     `json:"-"`
	Status    bool       `json:"status"`
	User      PublicUser `json:"user"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// SessionStore persists sessions keyed by token.
type SessionStore interface {
	Put(ctx context.Context, s Session) error
	// Get returns nil when the token has no session.
	Get(ctx context.Context, token string) (*Session, error)
	// Delete is idempotent.
	Delete(ctx context.Context, token string) error
	// DeleteUser drops any session belonging to the user.
	DeleteUser(ctx context.Context, userID string) error
}

const (
	sessionKeyPrefix = "auth:"
	userIndexPrefix  = "auth:user:"
)

// RedisSessions stores sessions in Redis with TTL matching the token.
type RedisSessions struct {
	client *redis.Client
}

func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client}
}

func (s *RedisSessions) Put(ctx context.Context, sess Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return errors.New("session already expired")
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+sess.Token, payload, ttl).Err(); err != nil {
		return err
	}
	return s.client.Set(ctx, userIndexPrefix+sess.User.ID, sess.Token, ttl).Err()
}

func (s *RedisSessions) Get(ctx context.Context, token string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		// Malformed session data reads as "no session".
		return nil, nil
	}
	sess.Token = token
	return &sess, nil
}

func (s *RedisSessions) Delete(ctx context.Context, token string) error {
	sess, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	if sess != nil {
		_ = s.client.Del(ctx, userIndexPrefix+sess.User.ID).Err()
	}
	return s.client.Del(ctx, sessionKeyPrefix+token).Err()
}

func (s *RedisSessions) DeleteUser(ctx context.Context, userID string) error {
	token, err := s.client.Get(ctx, userIndexPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	_ = s.client.Del(ctx, sessionKeyPrefix+token).Err()
	return s.client.Del(ctx, userIndexPrefix+userID).Err()
}

// MemorySessions is the in-process SessionStore for dev and tests.
type MemorySessions struct {
	mu      sync.Mutex
	byToken map[string]Session
	byUser  map[string]string
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		byToken: make(map[string]Session),
		byUser:  make(map[string]string),
	}
}

func (s *MemorySessions) Put(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byToken[sess.Token] = sess
	s.byUser[sess.User.ID] = sess.Token
	return nil
}

func (s *MemorySessions) Get(_ context.Context, token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, nil
	}
	return &sess, nil
}

func (s *MemorySessions) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byToken[token]; ok {
		delete(s.byUser, sess.User.ID)
	}
	delete(s.byToken, token)
	return nil
}

func (s *MemorySessions) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.byUser[userID]; ok {
		delete(s.byToken, token)
	}
	delete(s.byUser, userID)
	return nil
}
