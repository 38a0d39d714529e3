package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"image-optimizer/internal/pkg/common"
)

// noiseImage 產生難以壓縮的雜訊圖，讓檔案大小容易超過上限
func noiseImage(w, h int) *image.NRGBA {
	rng := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, noiseImage(w, h), &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return path
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create fixture: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, noiseImage(w, h)); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return path
}

func fileSizeMB(t *testing.T, path string) float64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat %s: %v", path, err)
	}
	return common.BytesToMB(info.Size())
}

// observeLogs 以 observer 取代全域 logger
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := common.Logger
	common.Logger = zap.New(core)
	t.Cleanup(func() { common.Logger = prev })
	return logs
}

// referenceEncoding 以相同流程縮放並編碼來源圖片，作為輸出比對基準
func referenceEncoding(t *testing.T, src string, w, h int, format imaging.Format, opts ...imaging.EncodeOption) []byte {
	t.Helper()
	img, err := imaging.Open(src)
	if err != nil {
		t.Fatalf("failed to open %s: %v", src, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Resize(img, w, h, imaging.Lanczos), format, opts...); err != nil {
		t.Fatalf("failed to encode reference: %v", err)
	}
	return buf.Bytes()
}
