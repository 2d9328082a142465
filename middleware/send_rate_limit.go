package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"mailburst/config"
	"mailburst/models"
	"mailburst/utils"
)

// SendRateLimiter caps how many dispatch requests a user may submit per
// minute. This is a burst guard on the HTTP surface; per-account daily
// quotas are enforced separately at delivery time.
func SendRateLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.AppConfig.RateLimitSend,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			user := c.Locals("user").(*models.User)
			return fmt.Sprintf("send-rate:%d:%s", user.ID, c.Path())
		},
		LimitReached: func(c *fiber.Ctx) error {
			user := c.Locals("user").(*models.User)
			utils.LogEvent("rate_limit_hit", map[string]interface{}{
				"user_id":    user.ID,
				"endpoint":   c.Path(),
				"ip":         c.IP(),
				"user_agent": c.Get("User-Agent"),
			})

			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many send requests. Please wait before submitting again.",
				"retry_after": "1 minute",
			})
		},
		Storage: NewRedisStorage(),
	})
}

// RedisStorage implements fiber.Storage on the shared redis client so rate
// limit counters survive restarts and are shared across replicas.
type RedisStorage struct{}

func NewRedisStorage() *RedisStorage {
	return &RedisStorage{}
}

func (r *RedisStorage) Get(key string) ([]byte, error) {
	val, err := config.Redis.Get(context.Background(), key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (r *RedisStorage) Set(key string, val []byte, exp time.Duration) error {
	return config.Redis.Set(context.Background(), key, val, exp).Err()
}

func (r *RedisStorage) Delete(key string) error {
	return config.Redis.Del(context.Background(), key).Err()
}

func (r *RedisStorage) Reset() error {
	return config.Redis.FlushDB(context.Background()).Err()
}

func (r *RedisStorage) Close() error {
	return nil
}
