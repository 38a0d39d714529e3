package image

import (
	"fmt"
	stdimage "image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"
)

const (
	// DefaultMaxSizeMB 預設大小上限
	DefaultMaxSizeMB = 4.0
	// DefaultJPEGQuality JPEG 重新編碼品質
	DefaultJPEGQuality = 85
	// DefaultSuffix 最佳化後檔名後綴
	DefaultSuffix = "_optimized"
)

// ErrorKind 最佳化失敗的類型
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	DecodeFailure     ErrorKind = "decode_failure"
	EncodeFailure     ErrorKind = "encode_failure"
	FilesystemFailure ErrorKind = "filesystem_failure"
)

// Result 最佳化結果。失敗時 Path 為原始路徑，Kind/Err 標示原因
type Result struct {
	Path          string    `json:"path"`
	Original      string    `json:"original"`
	Optimized     bool      `json:"optimized"`
	OriginalSize  int64     `json:"original_size"`
	OptimizedSize int64     `json:"optimized_size,omitempty"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	ScaleFactor   float64   `json:"scale_factor,omitempty"`
	Kind          ErrorKind `json:"error_kind,omitempty"`
	Err           error     `json:"-"`
}

// Failed 是否走了 fallback
func (r Result) Failed() bool {
	return r.Err != nil
}

// Options 最佳化器設定
type Options struct {
	DefaultMaxSizeMB float64
	JPEGQuality      int
	Suffix           string
}

// DefaultOptions 預設設定
func DefaultOptions() Options {
	return Options{
		DefaultMaxSizeMB: DefaultMaxSizeMB,
		JPEGQuality:      DefaultJPEGQuality,
		Suffix:           DefaultSuffix,
	}
}

// OptionsFromConfig 從設定建立 Options
func OptionsFromConfig(cfg config.ImageConfig) Options {
	opts := DefaultOptions()
	if cfg.MaxSizeMB > 0 {
		opts.DefaultMaxSizeMB = cfg.MaxSizeMB
	}
	if cfg.JPEGQuality > 0 {
		opts.JPEGQuality = cfg.JPEGQuality
	}
	if cfg.Suffix != "" {
		opts.Suffix = cfg.Suffix
	}
	return opts
}

// Optimizer 圖片大小最佳化器
type Optimizer struct {
	opts  Options
	locks *pathLocker
}

// NewOptimizer 創建最佳化器
func NewOptimizer(opts Options) *Optimizer {
	if opts.DefaultMaxSizeMB <= 0 || math.IsNaN(opts.DefaultMaxSizeMB) {
		opts.DefaultMaxSizeMB = DefaultMaxSizeMB
	}
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	return &Optimizer{
		opts:  opts,
		locks: newPathLocker(),
	}
}

// Options 回傳目前設定
func (o *Optimizer) Options() Options {
	return o.opts
}

// DerivedPath 以預設後綴產生輸出路徑
func DerivedPath(path string) string {
	return derivePath(path, DefaultSuffix)
}

// DerivedPath 產生 <stem><suffix><ext>，與輸入同目錄
func (o *Optimizer) DerivedPath(path string) string {
	return derivePath(path, o.opts.Suffix)
}

func derivePath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

// ScaleFactor 以面積估算的線性縮放比例
func ScaleFactor(maxSizeMB, currentSizeMB float64) float64 {
	if currentSizeMB <= 0 {
		return 1
	}
	return math.Sqrt(maxSizeMB / currentSizeMB)
}

// TargetDimensions 依比例計算新尺寸（無條件捨去，最小 1px）
func TargetDimensions(width, height int, scale float64) (int, int) {
	w := int(float64(width) * scale)
	h := int(float64(height) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// IsJPEGExt 副檔名是否為 JPEG
func IsJPEGExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// Optimize 確保圖片不超過 maxSizeMB，必要時縮放並另存。
// 任何失敗都不回傳錯誤，而是記錄日誌並回傳原始路徑。
func (o *Optimizer) Optimize(path string, maxSizeMB float64) Result {
	if math.IsNaN(maxSizeMB) || maxSizeMB <= 0 {
		maxSizeMB = o.opts.DefaultMaxSizeMB
	}
	res := Result{Path: path, Original: path}

	common.LogDebug("Checking if image needs optimization", zap.String("path", path))

	info, err := os.Stat(path)
	if err != nil {
		return o.fallback(res, FilesystemFailure, "stat", err)
	}
	if !info.Mode().IsRegular() {
		return o.fallback(res, FilesystemFailure, "stat", fmt.Errorf("%s is not a regular file", path))
	}
	res.OriginalSize = info.Size()

	fileSizeMB := common.BytesToMB(info.Size())
	if fileSizeMB <= maxSizeMB {
		common.LogDebug("Image already within size limit",
			zap.String("path", path),
			zap.Float64("size_mb", fileSizeMB),
			zap.Float64("max_size_mb", maxSizeMB),
		)
		return res
	}

	common.LogInfo("Image exceeds size limit, optimizing",
		zap.String("path", path),
		zap.Float64("size_mb", fileSizeMB),
		zap.Float64("max_size_mb", maxSizeMB),
	)

	img, err := decodeFile(path)
	if err != nil {
		return o.fallback(res, kindOf(err), "decode", err)
	}

	bounds := img.Bounds()
	scale := ScaleFactor(maxSizeMB, fileSizeMB)
	newWidth, newHeight := TargetDimensions(bounds.Dx(), bounds.Dy(), scale)

	common.LogDebug("Resizing image",
		zap.String("path", path),
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
		zap.Int("new_width", newWidth),
		zap.Int("new_height", newHeight),
		zap.Float64("scale_factor", scale),
	)

	resized := imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)

	optimizedPath := o.DerivedPath(path)
	// 寫入與讀取輸出大小都在同一把鎖內
	unlock := o.locks.Lock(optimizedPath)
	outInfo, err := o.save(resized, optimizedPath, info.Mode().Perm())
	unlock()
	if err != nil {
		return o.fallback(res, kindOf(err), "encode", err)
	}

	common.LogInfo("Optimized image size",
		zap.String("path", optimizedPath),
		zap.Float64("size_mb", common.BytesToMB(outInfo.Size())),
		zap.Float64("original_size_mb", fileSizeMB),
	)

	res.Path = optimizedPath
	res.Optimized = true
	res.OptimizedSize = outInfo.Size()
	res.Width = newWidth
	res.Height = newHeight
	res.ScaleFactor = scale
	return res
}

// save 寫入暫存檔後 rename，避免留下不完整的輸出，回傳輸出檔資訊
func (o *Optimizer) save(img stdimage.Image, path string, perm os.FileMode) (os.FileInfo, error) {
	ext := filepath.Ext(path)
	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return nil, &opError{kind: EncodeFailure, err: fmt.Errorf("unsupported output format %q: %w", ext, err)}
	}

	var opts []imaging.EncodeOption
	switch {
	case IsJPEGExt(ext):
		opts = append(opts, imaging.JPEGQuality(o.opts.JPEGQuality))
	case format == imaging.PNG:
		opts = append(opts, imaging.PNGCompressionLevel(png.BestCompression))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, &opError{kind: FilesystemFailure, err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := imaging.Encode(tmp, img, format, opts...); err != nil {
		tmp.Close()
		return nil, &opError{kind: EncodeFailure, err: err}
	}
	if err := tmp.Close(); err != nil {
		return nil, &opError{kind: FilesystemFailure, err: err}
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return nil, &opError{kind: FilesystemFailure, err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, &opError{kind: FilesystemFailure, err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &opError{kind: FilesystemFailure, err: err}
	}

	common.LogDebug("Saved optimized image",
		zap.String("path", path),
		zap.String("format", format.String()),
		zap.Bool("jpeg_quality_applied", IsJPEGExt(ext)),
	)
	return info, nil
}

// fallback 記錄錯誤並回傳原始路徑
func (o *Optimizer) fallback(res Result, kind ErrorKind, operation string, err error) Result {
	common.LogError("Error optimizing image",
		zap.String("path", res.Original),
		zap.String("operation", operation),
		zap.String("error_kind", string(kind)),
		zap.Error(err),
	)
	common.LogWarn("Using original unoptimized image", zap.String("path", res.Original))

	res.Path = res.Original
	res.Optimized = false
	res.Kind = kind
	res.Err = kind.wrap(err)
	return res
}

// wrap 將錯誤轉換為對應的 CustomError
func (k ErrorKind) wrap(err error) error {
	switch k {
	case DecodeFailure:
		return common.ErrImageDecode.WithError(err)
	case EncodeFailure:
		return common.ErrImageEncode.WithError(err)
	default:
		return common.ErrFilesystem.WithError(err)
	}
}

// opError 帶有失敗類型的內部錯誤
type opError struct {
	kind ErrorKind
	err  error
}

func (e *opError) Error() string { return e.err.Error() }
func (e *opError) Unwrap() error { return e.err }

func kindOf(err error) ErrorKind {
	if oe, ok := err.(*opError); ok {
		return oe.kind
	}
	return FilesystemFailure
}
