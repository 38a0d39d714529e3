package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"

	"go.uber.org/zap"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache 編碼結果快取
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Stats() Stats
	Close() error
}

// Stats 快取統計
type Stats struct {
	Backend   string  `json:"backend"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size,omitempty"`
	Bytes     int64   `json:"bytes,omitempty"`
	MaxBytes  int64   `json:"max_bytes,omitempty"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Errors    int64   `json:"errors"`
	HitRatio  float64 `json:"hit_ratio"`
}

func hitRatio(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// New 依設定建立快取，未啟用時回傳 nil
func New(cfg config.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		common.LogInfo("Cache disabled")
		return nil, nil
	}

	switch cfg.Backend {
	case "", BackendMemory:
		return NewManager(cfg), nil
	case BackendRedis:
		return NewRedisService(cfg)
	default:
		return nil, common.ErrInvalidRequest.WithError(fmt.Errorf("unknown cache backend: %s", cfg.Backend))
	}
}

// Key 由路徑、大小與修改時間產生快取鍵
func Key(path string, size int64, modTime time.Time) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", path, size, modTime.UnixNano())))
	return hex.EncodeToString(hash[:])
}

// FileKey 讀取檔案資訊後產生快取鍵，檔案變更後鍵也會改變
func FileKey(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", common.ErrFilesystem.WithError(err)
	}
	return Key(path, info.Size(), info.ModTime()), nil
}

// GetOrLoad 先查快取，未命中時呼叫 load 並寫回。c 為 nil 時直接呼叫 load
func GetOrLoad(ctx context.Context, c Cache, key string, load func() (string, error)) (string, bool, error) {
	if c != nil {
		if value, err := c.Get(ctx, key); err == nil {
			return value, true, nil
		} else if !errors.Is(err, common.ErrCacheMiss) {
			common.LogWarn("Cache lookup failed", zap.String("key", key), zap.Error(err))
		}
	}

	value, err := load()
	if err != nil {
		return "", false, err
	}

	if c != nil {
		if err := c.Set(ctx, key, value); err != nil {
			common.LogWarn("Failed to store cache entry", zap.String("key", key), zap.Error(err))
		}
	}
	return value, false, nil
}
