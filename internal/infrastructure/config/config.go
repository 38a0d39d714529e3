package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"image-optimizer/internal/pkg/common"
)

// Config 應用配置
type Config struct {
	App         AppConfig       `mapstructure:"app"`
	Server      ServerConfig    `mapstructure:"server"`
	Image       ImageConfig     `mapstructure:"image"`
	Queue       QueueConfig     `mapstructure:"queue"`
	Cache       CacheConfig     `mapstructure:"cache"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Log         LogConfig       `mapstructure:"log"`
	Analyzer    AnalyzerConfig  `mapstructure:"analyzer"`
	DedupWindow time.Duration   `mapstructure:"dedup_window"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	Version string `mapstructure:"version"`
	Name    string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	AllowOrigins   []string      `mapstructure:"allow_origins"`
}

// ImageConfig 圖片配置
type ImageConfig struct {
	MaxSizeMB   float64  `mapstructure:"max_size_mb"`
	JPEGQuality int      `mapstructure:"jpeg_quality"`
	Suffix      string   `mapstructure:"suffix"`
	RootDirs    []string `mapstructure:"root_dirs"`
}

// QueueConfig 批次處理隊列設定
type QueueConfig struct {
	Workers int `mapstructure:"workers"`
	MaxSize int `mapstructure:"max_size"`
}

// CacheConfig 緩存配置
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Backend         string        `mapstructure:"backend"`
	MaxSize         int           `mapstructure:"max_size"`
	MaxBytes        int64         `mapstructure:"max_bytes"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Dir       string `mapstructure:"dir"`
	Console   bool   `mapstructure:"console"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	Compress  bool   `mapstructure:"compress"`
}

// AnalyzerConfig 圖片分析 API 配置
type AnalyzerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

const (
	// MinWorkers/MaxWorkers 批次大小上下限
	MinWorkers = 1
	MaxWorkers = 100
)

// LoadConfig 載入設定（.env 與環境變數）
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("")
}

// LoadConfigFrom 載入設定，configFile 非空時額外讀取該檔案
func LoadConfigFrom(configFile string) (*Config, error) {
	// 加載 .env 文件，不存在時忽略
	_ = godotenv.Load()

	v := viper.New()

	// 設定預設值
	setDefaults(v)

	// 設定環境變數前綴
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 綁定環境變量
	_ = v.BindEnv("analyzer.api_key", "ANALYZER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("analyzer.model", "ANALYZER_MODEL", "OPENROUTER_MODEL")
	_ = v.BindEnv("image.max_size_mb", "IMAGE_MAX_SIZE_MB")
	_ = v.BindEnv("image.root_dirs", "IMAGE_ROOT_DIRS")
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("server.allow_origins", "CORS_ALLOW_ORIGINS")
	_ = v.BindEnv("queue.workers", "BATCH_SIZE")
	_ = v.BindEnv("cache.enabled", "CACHE_ENABLED")
	_ = v.BindEnv("cache.redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("rate_limit.enabled", "RATE_LIMIT_ENABLED")
	_ = v.BindEnv("rate_limit.requests", "RATE_LIMIT_REQUESTS")
	_ = v.BindEnv("rate_limit.window", "RATE_LIMIT_WINDOW")
	_ = v.BindEnv("dedup_window", "DEDUP_WINDOW")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.dir", "LOG_DIR")

	// 讀取設定檔
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 解析設定
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 驗證必要設定
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// MaskAPIKey 遮罩 API Key，只顯示前後各 4 個字符
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// LoggerConfig 轉換為 InitLogger 使用的設定
func (c *Config) LoggerConfig() common.LogConfig {
	return common.LogConfig{
		Level:     c.Log.Level,
		Dir:       c.Log.Dir,
		Console:   c.Log.Console,
		MaxSizeMB: c.Log.MaxSizeMB,
		Compress:  c.Log.Compress,
		Service:   c.App.Name,
	}
}

// setDefaults 設定預設值
func setDefaults(v *viper.Viper) {
	// 應用程式設定
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", false)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.name", "image-optimizer")

	// 伺服器設定
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("server.max_body_bytes", 1<<20) // 1MB，請求只帶路徑
	v.SetDefault("server.allow_origins", []string{})

	// 圖片設定
	v.SetDefault("image.max_size_mb", 4.0)
	v.SetDefault("image.jpeg_quality", 85)
	v.SetDefault("image.suffix", "_optimized")
	v.SetDefault("image.root_dirs", []string{"."}) // API 只能存取工作目錄下的檔案

	// 隊列設定
	v.SetDefault("queue.workers", 5)
	v.SetDefault("queue.max_size", 100)

	// 快取設定
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_size", 256)
	v.SetDefault("cache.max_bytes", 16<<20) // 16MB
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.cleanup_interval", "10m")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	// 限流設定
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", "1m")

	// 日誌設定
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.console", true)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.compress", true)

	// 分析服務設定
	v.SetDefault("analyzer.enabled", false)
	v.SetDefault("analyzer.api_key", "")
	v.SetDefault("analyzer.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("analyzer.model", "qwen/qwen2.5-vl-72b-instruct:free")
	v.SetDefault("analyzer.max_tokens", 1000)
	v.SetDefault("analyzer.timeout", "60s")

	v.SetDefault("dedup_window", "1s")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	// 驗證伺服器設定
	if config.Server.Port <= 0 {
		return errors.New("server port is required")
	}

	// 驗證圖片設定
	if math.IsNaN(config.Image.MaxSizeMB) || config.Image.MaxSizeMB <= 0 {
		return fmt.Errorf("invalid image max size: %v", config.Image.MaxSizeMB)
	}
	if config.Image.JPEGQuality < 1 || config.Image.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality: %d", config.Image.JPEGQuality)
	}
	if config.Image.Suffix == "" {
		return errors.New("image suffix is required")
	}
	for _, origin := range config.Server.AllowOrigins {
		if origin == "*" {
			return errors.New("wildcard cors origin is not allowed")
		}
	}

	// 驗證隊列設定
	if config.Queue.Workers < MinWorkers || config.Queue.Workers > MaxWorkers {
		return fmt.Errorf("invalid queue workers: %d (must be %d-%d)", config.Queue.Workers, MinWorkers, MaxWorkers)
	}
	if config.Queue.MaxSize <= 0 {
		return errors.New("invalid queue max size")
	}

	// 驗證快取設定
	if config.Cache.Enabled {
		switch config.Cache.Backend {
		case "memory", "redis":
		default:
			return fmt.Errorf("unknown cache backend: %q", config.Cache.Backend)
		}
		if config.Cache.MaxSize <= 0 {
			return errors.New("invalid cache max size")
		}
		if config.Cache.MaxBytes < 0 {
			return errors.New("invalid cache max bytes")
		}
		if config.Cache.TTL <= 0 {
			return errors.New("invalid cache ttl")
		}
		if config.Cache.CleanupInterval <= 0 {
			return errors.New("invalid cache cleanup interval")
		}
	}

	if config.RateLimit.Enabled && (config.RateLimit.Requests <= 0 || config.RateLimit.Window <= 0) {
		return errors.New("invalid rate limit")
	}

	return nil
}
