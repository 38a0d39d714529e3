package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"image-optimizer/internal/core/image"
	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"
)

// app 指令間共用的狀態
type app struct {
	configFile string
	logLevel   string
	quietLogs  bool

	cfg  *config.Config
	logs *common.LoggerHandle
}

// optimizer 依設定建立最佳化器
func (a *app) optimizer() *image.Optimizer {
	return image.NewOptimizer(image.OptionsFromConfig(a.cfg.Image))
}

// NewRootCmd 建立 imgopt 根指令
func NewRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "imgopt",
		Short: "imgopt - keep images under a size budget",
		Long: "imgopt shrinks images that exceed a size budget so they can be submitted to\n" +
			"size-limited APIs. Oversized images are resized proportionally and written\n" +
			"next to the original as <name>_optimized<ext>; the original is never modified.",
		SilenceUsage:      true,
		PersistentPreRunE: a.initialize,
	}

	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&a.quietLogs, "quiet", "q", false, "disable console logging")

	rootCmd.AddCommand(newOptimizeCmd(a))
	rootCmd.AddCommand(newCopyCmd(a))
	rootCmd.AddCommand(newEncodeCmd(a))
	rootCmd.AddCommand(newInfoCmd(a))
	rootCmd.AddCommand(newWatchCmd(a))
	rootCmd.AddCommand(newServeCmd(a))

	return rootCmd
}

// Execute 執行根指令，收到 SIGINT/SIGTERM 時取消 context
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := a.execute(ctx, a.rootCmd()); err != nil {
		stop()
		os.Exit(1)
	}
}

// execute 執行指令，無論成功與否都關閉 logger
func (a *app) execute(ctx context.Context, root *cobra.Command) error {
	defer a.shutdown(root)
	return root.ExecuteContext(ctx)
}

// initialize 載入設定並初始化 logger
func (a *app) initialize(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigFrom(a.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	logCfg := cfg.LoggerConfig()
	logCfg.Stderr = true
	if a.quietLogs {
		logCfg.Console = false
	}
	logs, err := common.InitLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logs = logs

	common.LogDebug("Command started",
		zap.String("command", cmd.Name()),
		zap.Strings("args", args),
	)
	return nil
}

// shutdown 關閉 logger
func (a *app) shutdown(cmd *cobra.Command) {
	if a.logs == nil {
		return
	}
	if err := a.logs.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed to close logger: %v\n", err)
	}
	a.logs = nil
}
