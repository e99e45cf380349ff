package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig describes one fixed-window limit.
type RateLimitConfig struct {
	Name   string
	Max    int
	Window time.Duration
	// Key picks the bucket; by default the authenticated user, else the IP.
	Key func(c *fiber.Ctx) string
}

// RateLimit counts requests per bucket in Redis. Without Redis, or when Redis
// fails, requests pass.
func RateLimit(cache *redis.Client, cfg RateLimitConfig) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Key == nil {
		cfg.Key = func(c *fiber.Ctx) string {
			if uid, _ := c.Locals(userIDKey).(string); uid != "" {
				return uid
			}
			return c.IP()
		}
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		key := fmt.Sprintf("rl:%s:%s", cfg.Name, cfg.Key(c))

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, cfg.Window)
		}
		if cnt > int64(cfg.Max) {
			if ttl, err := cache.TTL(c.UserContext(), key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, fmt.Sprint(int(ttl.Seconds())+1))
			}
			return fiber.NewError(http.StatusTooManyRequests, "too many "+cfg.Name+" attempts, try again later")
		}
		return c.Next()
	}
}

// PhoneKey buckets by the phone number in the JSON body, falling back to IP.
func PhoneKey(c *fiber.Ctx) string {
	var req struct {
		Phone string `json:"phone"`
	}
	_ = c.BodyParser(&req)
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		return phone
	}
	return c.IP()
}
