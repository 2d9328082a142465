package utils

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"

	"mailburst/config"
)

const (
	OTPLength = 6
	OTPExpiry = 15 * time.Minute
)

var ErrCodeNotFound = errors.New("verification code not found or expired")

func GenerateOTP() (string, error) {
	const digits = "0123456789"
	otp := make([]byte, OTPLength)

	for i := range otp {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		otp[i] = digits[num.Int64()]
	}

	return string(otp), nil
}

// TTLStore is a keyed store with expiry and single-consumption semantics,
// backed by redis so verification codes survive process restarts and work
// across replicas.
type TTLStore struct {
	client *redis.Client
	prefix string
}

func NewTTLStore(prefix string) *TTLStore {
	return &TTLStore{client: config.Redis, prefix: prefix}
}

func (s *TTLStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *TTLStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *TTLStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", ErrCodeNotFound
	}
	return val, err
}

// Consume returns the value and deletes it atomically; a second call for the
// same key fails.
func (s *TTLStore) Consume(ctx context.Context, key string) (string, error) {
	val, err := s.client.GetDel(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", ErrCodeNotFound
	}
	return val, err
}
