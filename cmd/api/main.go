package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"image-optimizer/internal/api"
	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"

	"go.uber.org/zap"
)

func main() {
	// 載入設定（含 .env）
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化 logger（需在載入 config 後）
	logs, err := common.InitLogger(cfg.LoggerConfig())
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()

	common.LogInfo("載入設定",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("root_dirs", cfg.Image.RootDirs),
		zap.Float64("max_size_mb", cfg.Image.MaxSizeMB),
		zap.Bool("analyzer_enabled", cfg.Analyzer.Enabled),
		zap.String("analyzer_api_key", config.MaskAPIKey(cfg.Analyzer.APIKey)),
		zap.String("analyzer_model", cfg.Analyzer.Model),
	)

	// 等待中斷信號
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := api.Serve(ctx, cfg); err != nil {
		common.LogError("Server error", zap.Error(err))
		logs.Close()
		os.Exit(1)
	}
}
