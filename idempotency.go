package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrKeyInFlight means another request holding the same idempotency key
	// has not finished yet.
	ErrKeyInFlight = errors.New("idempotency key in flight")
	// ErrKeyReused means the key was first claimed for a different order.
	ErrKeyReused = errors.New("idempotency key reused with a different request")
)

// IdempotencyStore remembers checkout responses by client-supplied key so a
// retried submission replays the first answer instead of decrementing again.
// Each key is bound to the fingerprint of the request that claimed it.
type IdempotencyStore interface {
	// Claim reserves key for fingerprint. When the key already completed it
	// returns the stored response and claimed=false; while the first request
	// is still running it returns ErrKeyInFlight. A key claimed under another
	// fingerprint returns ErrKeyReused.
	Claim(ctx context.Context, key, fingerprint string) (stored []byte, claimed bool, err error)
	Complete(ctx context.Context, key, fingerprint string, response []byte) error
	Release(ctx context.Context, key string) error
}

// requestFingerprint hashes the decoded request, so formatting differences in
// the submitted JSON do not count as a different order.
func requestFingerprint(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func replayClaim(storedFingerprint, fingerprint string, response []byte) ([]byte, bool, error) {
	if storedFingerprint != fingerprint {
		return nil, false, ErrKeyReused
	}
	if len(response) == 0 {
		return nil, false, ErrKeyInFlight
	}
	return response, false, nil
}

// =========================
// Redis
// =========================

type redisIdempotencyStore struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// claimAttempts bounds how often Claim retries a key that expires between
// SETNX and GET.
const claimAttempts = 3

func NewRedisIdempotencyStore(client redis.Cmdable, ttl time.Duration) IdempotencyStore {
	return &redisIdempotencyStore{client: client, ttl: ttl, prefix: "storefront:checkout:"}
}

// ConnectRedis parses a redis:// URL and checks the server answers.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Values are stored as "<fingerprint>\n<response>"; a pending claim has an
// empty response.
func (s *redisIdempotencyStore) Claim(ctx context.Context, key, fingerprint string) ([]byte, bool, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		set, err := s.client.SetNX(ctx, s.prefix+key, encodeClaim(fingerprint, nil), s.ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("claim idempotency key: %w", err)
		}
		if set {
			return nil, true, nil
		}

		val, err := s.client.Get(ctx, s.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("read idempotency key: %w", err)
		}
		storedFingerprint, response, ok := bytes.Cut(val, []byte("\n"))
		if !ok {
			return nil, false, fmt.Errorf("idempotency key %q holds a malformed value", key)
		}
		return replayClaim(string(storedFingerprint), fingerprint, response)
	}
	return nil, false, fmt.Errorf("idempotency key %q expired %d times while being claimed", key, claimAttempts)
}

func (s *redisIdempotencyStore) Complete(ctx context.Context, key, fingerprint string, response []byte) error {
	return s.client.Set(ctx, s.prefix+key, encodeClaim(fingerprint, response), s.ttl).Err()
}

func encodeClaim(fingerprint string, response []byte) []byte {
	return append([]byte(fingerprint+"\n"), response...)
}

func (s *redisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// =========================
// In-memory
// =========================

type memoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	ttl     time.Duration
	now     func() time.Time
}

type idempotencyEntry struct {
	fingerprint string
	response    []byte
	expiresAt   time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) IdempotencyStore {
	return &memoryIdempotencyStore{
		entries: make(map[string]idempotencyEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *memoryIdempotencyStore) Claim(ctx context.Context, key, fingerprint string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpired(now)
	entry, exists := s.entries[key]
	if !exists {
		s.entries[key] = idempotencyEntry{fingerprint: fingerprint, expiresAt: now.Add(s.ttl)}
		return nil, true, nil
	}
	return replayClaim(entry.fingerprint, fingerprint, entry.response)
}

func (s *memoryIdempotencyStore) Complete(ctx context.Context, key, fingerprint string, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{fingerprint: fingerprint, response: response, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *memoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memoryIdempotencyStore) evictExpired(now time.Time) {
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
