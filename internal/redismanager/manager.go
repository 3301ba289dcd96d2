package redismanager

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const shareKeyPrefix = "IT:Teaser:"

var ErrShareNotFound = errors.New("share link not found or expired")

// Manager mints short-lived share hashes that resolve to output object keys.
type Manager struct {
	client redis.UniversalClient
}

// Create Redis instance
func NewManager(redisClient redis.UniversalClient) *Manager {
	return &Manager{
		client: redisClient,
	}
}

// Create stores outputKey under a fresh hash with the given TTL in seconds
// and returns the hash.
func (m *Manager) Create(ctx context.Context, outputKey string, ttl int) (string, error) {
	hash := GenerateHash()
	dur, err := time.ParseDuration(strconv.Itoa(ttl) + "s")
	if err != nil {
		return "", err
	}

	err = m.client.Set(ctx, shareKeyPrefix+hash, outputKey, dur).Err()
	if err != nil {
		return "", err
	}

	return hash, nil
}

// Resolve maps a share hash back to the output object key.
func (m *Manager) Resolve(ctx context.Context, hash string) (string, error) {
	val, err := m.client.Get(ctx, shareKeyPrefix+hash).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrShareNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func GenerateHash() string {
	src := rand.NewSource(time.Now().UnixNano() * 2)
	r := rand.New(src)

	str := strconv.Itoa(int(time.Now().UnixNano()))
	str += strconv.Itoa(r.Intn(65535))

	in := sha1.Sum([]byte(str))

	out := make([]byte, base64.RawURLEncoding.EncodedLen(len(in)))
	base64.RawURLEncoding.Encode(out, in[:])

	return string(out)
}
