package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replayed"
	idempotencyPrefix       = "idempotency:v2:"

	statePending = "pending"
	stateDone    = "done"

	storeTimeout = 2 * time.Second
)

// idempotencyRecord is what Redis holds for one key: the fingerprint of the
// request that claimed it and, once the handler has answered, the response.
type idempotencyRecord struct {
	State       string `json:"state"`
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type idempotencyStore struct {
	cache *redis.Client
	ttl   time.Duration
}

func (s idempotencyStore) load(ctx context.Context, key string) (idempotencyRecord, bool, error) {
	raw, err := s.cache.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return idempotencyRecord{}, false, nil
	}
	if err != nil {
		return idempotencyRecord{}, false, err
	}
	var rec idempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return idempotencyRecord{}, false, err
	}
	return rec, true, nil
}

func (s idempotencyStore) reserve(ctx context.Context, key, fingerprint string) (bool, error) {
	raw, err := json.Marshal(idempotencyRecord{State: statePending, Fingerprint: fingerprint})
	if err != nil {
		return false, err
	}
	return s.cache.SetNX(ctx, key, raw, s.ttl).Result()
}

func (s idempotencyStore) save(ctx context.Context, key string, rec idempotencyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, key, raw, s.ttl).Err()
}

// release frees key so the client may retry. It outlives the request context.
func (s idempotencyStore) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	s.cache.Del(ctx, key)
}

// Idempotency makes unsafe requests safe to retry. The first request with a
// given Idempotency-Key runs; later ones get the stored response, a 409 while
// the first is still running, or a 422 when the key comes back with a
// different request. Keys are scoped to the authenticated user when there is
// one. Failed requests and 5xx answers are not stored. Paths under any of
// skip (gateway webhooks) pass through untouched.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger, skip ...string) fiber.Handler {
	store := idempotencyStore{cache: cache, ttl: ttl}

	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		for _, prefix := range skip {
			if strings.HasPrefix(c.Path(), prefix) {
				return c.Next()
			}
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		storeKey := idempotencyPrefix + key
		if uid, _ := c.Locals(userIDKey).(string); uid != "" {
			storeKey = idempotencyPrefix + uid + ":" + key
		}
		fp := fingerprint(c)

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		rec, found, err := store.load(ctx, storeKey)
		if err != nil {
			logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}
		if found {
			return replay(c, rec, fp)
		}

		reserved, err := store.reserve(ctx, storeKey, fp)
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		if err := c.Next(); err != nil {
			store.release(storeKey)
			return err
		}
		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			store.release(storeKey)
			return nil
		}

		done := idempotencyRecord{
			State:       stateDone,
			Fingerprint: fp,
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		saveCtx, saveCancel := context.WithTimeout(context.Background(), storeTimeout)
		defer saveCancel()
		if err := store.save(saveCtx, storeKey, done); err != nil {
			// the response already reflects committed work; let it through
			logger.Error("failed to persist idempotent response", slog.String("key", key), slog.Any("error", err))
			store.release(storeKey)
		}
		return nil
	}
}

func replay(c *fiber.Ctx, rec idempotencyRecord, fp string) error {
	if rec.Fingerprint != fp {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key reused with a different request")
	}
	if rec.State != stateDone {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}
	if rec.ContentType != "" {
		c.Set(fiber.HeaderContentType, rec.ContentType)
	}
	c.Set(idempotencyReplayHeader, "true")
	return c.Status(rec.Status).Send(rec.Body)
}

// fingerprint identifies the request a key was first used with.
func fingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte{0})
	h.Write([]byte(c.Path()))
	h.Write([]byte{0})
	h.Write(c.Body())
	return hex.EncodeToString(h.Sum(nil))
}
