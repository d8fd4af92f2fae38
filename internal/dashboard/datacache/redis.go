package datacache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/common/compress"
	"github.com/edgecomet/inkdash/internal/common/redis"
)

// RedisStore keeps compressed values in Redis with native expiry.
type RedisStore struct {
	client      *redis.Client
	compression string
	logger      *zap.Logger
}

func NewRedisStore(client *redis.Client, compression string, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, compression: compression, logger: logger}
}

func (s *RedisStore) Key(source, hash string) string {
	return s.client.Keys().Data(source, hash)
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	framed, found, err := s.client.GetBytes(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	value, err := compress.Decode(framed)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	framed, err := compress.Encode(value, s.compression)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.logger.Debug("Storing dashboard data",
		zap.String("key", key),
		zap.Int("raw_bytes", len(value)),
		zap.Int("stored_bytes", len(framed)))
	return s.client.Set(ctx, key, framed, ttl)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
