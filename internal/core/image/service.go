package image

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif" // 支援 GIF

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // 支援 WebP

	"image-optimizer/internal/pkg/common"
)

// Asset 圖片檔案資訊
type Asset struct {
	Path     string `json:"path"`
	ByteSize int64  `json:"byte_size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
}

// SizeMB 檔案大小（MB）
func (a *Asset) SizeMB() float64 {
	return common.BytesToMB(a.ByteSize)
}

var extFormats = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".png":  "png",
	".gif":  "gif",
	".tif":  "tiff",
	".tiff": "tiff",
	".bmp":  "bmp",
	".webp": "webp",
}

// FormatFromPath 由副檔名判斷格式
func FormatFromPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extFormats[ext]; ok {
		return f
	}
	return strings.TrimPrefix(ext, ".")
}

// isSupportedFormat 檢查圖片格式是否支援
func isSupportedFormat(format string) bool {
	supportedFormats := map[string]bool{
		"jpeg": true,
		"png":  true,
		"gif":  true,
		"tiff": true,
		"bmp":  true,
		"webp": true,
	}
	return supportedFormats[format]
}

// IsSupported 副檔名是否為支援的圖片格式
func IsSupported(path string) bool {
	return isSupportedFormat(FormatFromPath(path))
}

// decodeFile 讀取並解碼圖片
func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &opError{kind: FilesystemFailure, err: err}
	}
	defer f.Close()

	img, err := imaging.Decode(f)
	if err != nil {
		return nil, &opError{kind: DecodeFailure, err: fmt.Errorf("failed to decode image: %w", err)}
	}
	return img, nil
}

// Dimensions 取得圖片寬高（只讀取檔頭）
func Dimensions(path string) (int, int, error) {
	common.LogDebug("Getting image dimensions", zap.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		common.LogError("Error getting image dimensions", zap.String("path", path), zap.Error(err))
		return 0, 0, common.ErrFilesystem.WithError(err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		common.LogError("Error getting image dimensions", zap.String("path", path), zap.Error(err))
		return 0, 0, common.ErrImageDecode.WithError(err)
	}

	common.LogDebug("Image dimensions",
		zap.String("path", path),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
	)
	return cfg.Width, cfg.Height, nil
}

// Inspect 讀取檔案大小、尺寸與格式
func Inspect(path string) (*Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, common.ErrFilesystem.WithError(err)
	}
	if info.IsDir() {
		return nil, common.ErrInvalidImageFormat.WithError(fmt.Errorf("%s is a directory", path))
	}

	width, height, err := Dimensions(path)
	if err != nil {
		return nil, err
	}

	return &Asset{
		Path:     path,
		ByteSize: info.Size(),
		Width:    width,
		Height:   height,
		Format:   FormatFromPath(path),
	}, nil
}

// EncodeBase64 將檔案內容編碼為 base64
func EncodeBase64(path string) (string, error) {
	common.LogDebug("Encoding image to base64", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		common.LogError("Error encoding image to base64", zap.String("path", path), zap.Error(err))
		return "", common.ErrFilesystem.WithError(err)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	common.LogDebug("Successfully encoded image", zap.String("path", path), zap.Int("length", len(encoded)))
	return encoded, nil
}

// DecodeBase64 解碼 base64 字串
func DecodeBase64(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, common.ErrInvalidImageFormat.WithError(fmt.Errorf("failed to decode base64 data: %w", err))
	}
	return data, nil
}

// DataURI 產生 data:image/<format>;base64,... 字串
func DataURI(path string) (string, error) {
	format := FormatFromPath(path)
	if !isSupportedFormat(format) {
		return "", common.ErrInvalidImageFormat.WithError(fmt.Errorf("unsupported image format: %s", format))
	}
	encoded, err := EncodeBase64(path)
	if err != nil {
		return "", err
	}
	return ToDataURI(format, encoded), nil
}

// ToDataURI 組合 data URI
func ToDataURI(format, encoded string) string {
	return fmt.Sprintf("data:image/%s;base64,%s", format, encoded)
}

// CopyToFolder 複製圖片到輸出目錄，保留權限與修改時間
func CopyToFolder(path, outputDir string) (string, error) {
	common.LogInfo("Processing image file", zap.String("path", path))

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		common.LogError("Error creating output directory", zap.String("output_dir", outputDir), zap.Error(err))
		return "", common.ErrFilesystem.WithError(err)
	}
	common.LogDebug("Ensured output directory exists", zap.String("output_dir", outputDir))

	outputPath := filepath.Join(outputDir, filepath.Base(path))
	if err := copyFile(path, outputPath); err != nil {
		common.LogError("Error copying image",
			zap.String("path", path),
			zap.String("output_path", outputPath),
			zap.Error(err),
		)
		return "", common.ErrFilesystem.WithError(err)
	}

	common.LogInfo("Successfully copied image", zap.String("output_path", outputPath))
	return outputPath, nil
}

var errSameFile = errors.New("source and destination are the same file")

func copyFile(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}
	if dstInfo, err := os.Stat(dst); err == nil && os.SameFile(srcInfo, dstInfo) {
		return errSameFile
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if err := os.Chmod(dst, srcInfo.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime())
}

// IsCandidate 支援的格式，且非隱藏檔或已最佳化的輸出
func (o *Optimizer) IsCandidate(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !IsSupported(name) {
		return false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return !strings.HasSuffix(stem, o.opts.Suffix)
}
