package users

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solven/escrow/internal/apperr"
)

// Code is a stored one-time code: its bcrypt hash and how many wrong guesses
// were made against it.
type Code struct {
	Hash     []byte
	Attempts int
}

// CodeStore keeps one pending code per phone number until it expires.
type CodeStore interface {
	Put(ctx context.Context, phone string, hash []byte, ttl time.Duration) error
	// Get fails with apperr.ErrNotFound when no live code exists.
	Get(ctx context.Context, phone string) (Code, error)
	// Fail records a wrong guess and returns the attempts so far.
	Fail(ctx context.Context, phone string) (int, error)
	Delete(ctx context.Context, phone string) error
}

const codePrefix = "otp:v1:"

// RedisCodeStore keeps codes in a Redis hash per phone with a TTL.
type RedisCodeStore struct {
	cache *redis.Client
}

// NewRedisCodeStore builds a Redis-backed code store.
func NewRedisCodeStore(cache *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{cache: cache}
}

func (s *RedisCodeStore) Put(ctx context.Context, phone string, hash []byte, ttl time.Duration) error {
	key := codePrefix + phone
	_, err := s.cache.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, "hash", hash, "attempts", 0)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (s *RedisCodeStore) Get(ctx context.Context, phone string) (Code, error) {
	vals, err := s.cache.HGetAll(ctx, codePrefix+phone).Result()
	if err != nil {
		return Code{}, err
	}
	hash, ok := vals["hash"]
	if !ok {
		return Code{}, fmt.Errorf("code for %s: %w", phone, apperr.ErrNotFound)
	}
	attempts, _ := strconv.Atoi(vals["attempts"])
	return Code{Hash: []byte(hash), Attempts: attempts}, nil
}

func (s *RedisCodeStore) Fail(ctx context.Context, phone string) (int, error) {
	key := codePrefix + phone
	if n, err := s.cache.Exists(ctx, key).Result(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, fmt.Errorf("code for %s: %w", phone, apperr.ErrNotFound)
	}
	n, err := s.cache.HIncrBy(ctx, key, "attempts", 1).Result()
	return int(n), err
}

func (s *RedisCodeStore) Delete(ctx context.Context, phone string) error {
	return s.cache.Del(ctx, codePrefix+phone).Err()
}

type memoryCode struct {
	Code
	expiresAt time.Time
}

// MemoryCodeStore is a CodeStore for development and tests.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]memoryCode
	now   func() time.Time
}

// NewMemoryCodeStore builds an in-memory code store.
func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[string]memoryCode), now: time.Now}
}

func (s *MemoryCodeStore) Put(_ context.Context, phone string, hash []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[phone] = memoryCode{Code: Code{Hash: hash}, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryCodeStore) Get(_ context.Context, phone string) (Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.live(phone)
	if !ok {
		return Code{}, fmt.Errorf("code for %s: %w", phone, apperr.ErrNotFound)
	}
	return c.Code, nil
}

func (s *MemoryCodeStore) Fail(_ context.Context, phone string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.live(phone)
	if !ok {
		return 0, fmt.Errorf("code for %s: %w", phone, apperr.ErrNotFound)
	}
	c.Attempts++
	s.codes[phone] = c
	return c.Attempts, nil
}

func (s *MemoryCodeStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, phone)
	return nil
}

// live must be called with mu held.
func (s *MemoryCodeStore) live(phone string) (memoryCode, bool) {
	c, ok := s.codes[phone]
	if !ok {
		return memoryCode{}, false
	}
	if !s.now().Before(c.expiresAt) {
		delete(s.codes, phone)
		return memoryCode{}, false
	}
	return c, true
}
