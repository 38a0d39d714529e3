package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日誌實例，InitLogger 之前為 no-op
	Logger = zap.NewNop()

	// 定義日誌級別的顏色
	levelColors = map[zapcore.Level]string{
		zapcore.DebugLevel: "\033[36m", // 青色
		zapcore.InfoLevel:  "\033[32m", // 綠色
		zapcore.WarnLevel:  "\033[33m", // 黃色
		zapcore.ErrorLevel: "\033[31m", // 紅色
		zapcore.FatalLevel: "\033[35m", // 紫色
	}
	resetColor = "\033[0m"
)

// LogConfig 日誌設定
type LogConfig struct {
	Level     string // console 級別
	Dir       string // 空字串時使用執行檔目錄下的 logs
	Console   bool
	Stderr    bool // console 輸出到 stderr，讓 stdout 留給指令結果
	MaxSizeMB int  // 單檔輪替大小
	Compress  bool
	Service   string
}

// fileSink 檔案輸出設定，對應 debug/info/error 三個檔案
type fileSink struct {
	name      string
	level     zapcore.Level
	retention time.Duration
}

var fileSinks = []fileSink{
	{name: "debug.log", level: zapcore.DebugLevel, retention: 7 * 24 * time.Hour},
	{name: "info.log", level: zapcore.InfoLevel, retention: 30 * 24 * time.Hour},
	{name: "error.log", level: zapcore.ErrorLevel, retention: 90 * 24 * time.Hour},
}

// LoggerHandle 由 InitLogger 回傳，負責釋放檔案資源
type LoggerHandle struct {
	Logger  *zap.Logger
	Dir     string // 實際使用的日誌目錄，console only 時為空
	writers []*lumberjack.Logger
}

// Close 同步並關閉所有檔案輸出
func (h *LoggerHandle) Close() error {
	if h == nil {
		return nil
	}
	_ = h.Logger.Sync()
	var firstErr error
	for _, w := range h.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.writers = nil
	return firstErr
}

// 自定義編碼器配置
func getEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "", // 移除 logger 名稱
		CallerKey:      "", // 移除調用者信息
		MessageKey:     "msg",
		StacktraceKey:  "", // 移除堆棧跟踪
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    customLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   nil, // 移除調用者編碼器
	}
}

// 檔案用編碼器配置，保留完整時間與呼叫位置
func getFileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// 自定義時間格式
func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05.000")) // 添加毫秒級別的時間戳
}

// 自定義級別編碼器（添加顏色）
func customLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	color := levelColors[l]
	level := l.String()
	// 統一級別顯示長度
	switch l {
	case zapcore.DebugLevel:
		level = "DBG"
	case zapcore.InfoLevel:
		level = "INF"
	case zapcore.WarnLevel:
		level = "WRN"
	case zapcore.ErrorLevel:
		level = "ERR"
	case zapcore.FatalLevel:
		level = "FAT"
	}
	enc.AppendString(color + level + resetColor)
}

// ParseLevel 解析日誌級別，無法辨識時為 info
func ParseLevel(logLevel string) zapcore.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// executableDir 取得執行檔所在目錄，失敗時回傳工作目錄
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	return filepath.Dir(exe)
}

// ResolveLogDir 決定日誌目錄
func ResolveLogDir(dir string) string {
	if dir != "" {
		return dir
	}
	return filepath.Join(executableDir(), "logs")
}

// probeLogDir 建立目錄並確認可寫入
func probeLogDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	probe := filepath.Join(dir, "test_write.tmp")
	if err := os.WriteFile(probe, []byte("Test"), 0644); err != nil {
		return fmt.Errorf("log directory is not writable: %w", err)
	}
	return os.Remove(probe)
}

// InitLogger 初始化日誌系統，由程式進入點呼叫一次
func InitLogger(cfg LogConfig) (*LoggerHandle, error) {
	level := ParseLevel(cfg.Level)
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}

	var cores []zapcore.Core
	if cfg.Console {
		out := os.Stdout
		if cfg.Stderr {
			out = os.Stderr
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(getEncoderConfig()),
			zapcore.AddSync(out),
			level,
		))
	}

	handle := &LoggerHandle{}
	dir := ResolveLogDir(cfg.Dir)
	probeErr := probeLogDir(dir)
	if probeErr == nil {
		handle.Dir = dir
		for _, sink := range fileSinks {
			w := &lumberjack.Logger{
				Filename: filepath.Join(dir, sink.name),
				MaxSize:  maxSize,
				MaxAge:   int(sink.retention / (24 * time.Hour)),
				Compress: cfg.Compress,
			}
			handle.writers = append(handle.writers, w)
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(getFileEncoderConfig()),
				zapcore.AddSync(w),
				sink.level,
			))
		}
	}

	service := cfg.Service
	if service == "" {
		service = "image-optimizer"
	}

	// 合併多個核心
	core := zapcore.NewTee(cores...)
	handle.Logger = zap.New(core,
		zap.AddCallerSkip(1),
		zap.Fields(
			zap.String("service", service),
		),
	)

	Logger = handle.Logger
	zap.ReplaceGlobals(Logger)

	if probeErr != nil {
		LogWarn("File logging disabled, continuing with console only",
			zap.String("dir", dir),
			zap.Error(probeErr),
		)
	} else {
		LogInfo("Logger initialized",
			zap.String("logs_dir", dir),
			zap.String("executable_dir", executableDir()),
		)
	}

	return handle, nil
}

// filterFields 過濾掉包含圖片數據的字段
func filterFields(fields []zap.Field) []zap.Field {
	filteredFields := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if field.Key == "image" || strings.Contains(field.Key, "image_data") || strings.Contains(field.Key, "base64") {
			continue
		}
		filteredFields = append(filteredFields, field)
	}
	return filteredFields
}

// LogInfo 記錄信息日誌
func LogInfo(msg string, fields ...zap.Field) {
	Logger.Info(msg, filterFields(fields)...)
}

// LogError 記錄錯誤日誌
func LogError(msg string, fields ...zap.Field) {
	Logger.Error(msg, filterFields(fields)...)
}

// LogWarn 記錄警告日誌
func LogWarn(msg string, fields ...zap.Field) {
	Logger.Warn(msg, filterFields(fields)...)
}

// LogDebug 記錄調試日誌
func LogDebug(msg string, fields ...zap.Field) {
	Logger.Debug(msg, filterFields(fields)...)
}

// LogFatal 記錄致命錯誤日誌
func LogFatal(msg string, fields ...zap.Field) {
	Logger.Fatal(msg, fields...)
}

// Sync 同步日誌緩衝
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// LogImageProcessing 記錄圖片處理相關的日誌
func LogImageProcessing(level string, msg string, fields ...zap.Field) {
	switch level {
	case "debug":
		LogDebug(msg, fields...)
	case "error":
		LogError(msg, fields...)
	case "warn":
		LogWarn(msg, fields...)
	default:
		LogInfo(msg, fields...)
	}
}
