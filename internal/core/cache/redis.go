package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const redisKeyPrefix = "imgopt:encode:"

// RedisService Redis 緩存服務
type RedisService struct {
	client *redis.Client
	ttl    time.Duration
	hits   int64
	misses int64
	errors int64
}

// NewRedisService 創建 Redis 緩存服務並測試連接
func NewRedisService(cfg config.CacheConfig) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 測試連接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, common.ErrServiceUnavailable.WithError(fmt.Errorf("failed to connect to Redis: %w", err))
	}

	common.LogInfo("Redis cache connected",
		zap.String("addr", cfg.RedisAddr),
		zap.Int("db", cfg.RedisDB),
		zap.Duration("ttl", cfg.TTL),
	)
	return newRedisService(client, cfg.TTL), nil
}

func newRedisService(client *redis.Client, ttl time.Duration) *RedisService {
	return &RedisService{client: client, ttl: ttl}
}

// Get 獲取緩存
func (s *RedisService) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&s.misses, 1)
			return "", common.ErrCacheMiss
		}
		atomic.AddInt64(&s.errors, 1)
		return "", fmt.Errorf("failed to get cache: %w", err)
	}

	atomic.AddInt64(&s.hits, 1)
	return value, nil
}

// Set 設置緩存
func (s *RedisService) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, redisKeyPrefix+key, value, s.ttl).Err(); err != nil {
		atomic.AddInt64(&s.errors, 1)
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Stats 獲取緩存統計信息，Size 為 Redis DB 的鍵數量
func (s *RedisService) Stats() Stats {
	hits := atomic.LoadInt64(&s.hits)
	misses := atomic.LoadInt64(&s.misses)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	size, err := s.client.DBSize(ctx).Result()
	if err != nil {
		common.LogWarn("Failed to read Redis size", zap.Error(err))
	}

	return Stats{
		Backend:  BackendRedis,
		Size:     int(size),
		Hits:     hits,
		Misses:   misses,
		Errors:   atomic.LoadInt64(&s.errors),
		HitRatio: hitRatio(hits, misses),
	}
}

// Close 關閉連接
func (s *RedisService) Close() error {
	return s.client.Close()
}
