package image

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"go.uber.org/zap/zapcore"

	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"
)

func TestDerivedPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/data/photo.jpg", "/data/photo_optimized.jpg"},
		{"/data/photo.JPEG", "/data/photo_optimized.JPEG"},
		{"scan.png", "scan_optimized.png"},
		{"/data/archive.tar.gz", "/data/archive.tar_optimized.gz"},
		{"/data/noext", "/data/noext_optimized"},
		{"/data/photo_optimized.jpg", "/data/photo_optimized_optimized.jpg"},
	}
	for _, tt := range tests {
		if got := DerivedPath(tt.in); got != tt.want {
			t.Errorf("DerivedPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOptimizer_DerivedPathCustomSuffix(t *testing.T) {
	o := NewOptimizer(Options{Suffix: "_small"})
	if got := o.DerivedPath("/a/b.png"); got != "/a/b_small.png" {
		t.Errorf("unexpected derived path: %s", got)
	}
}

func TestScaleFactorAndTargetDimensions(t *testing.T) {
	// 6MB、上限 4MB、1000x800 → 816x653
	s := ScaleFactor(4.0, 6.0)
	if s < 0.8164 || s > 0.8166 {
		t.Fatalf("expected scale ~0.8165, got %v", s)
	}
	w, h := TargetDimensions(1000, 800, s)
	if w != 816 || h != 653 {
		t.Errorf("expected 816x653, got %dx%d", w, h)
	}

	w, h = TargetDimensions(3, 1, 0.1)
	if w != 1 || h != 1 {
		t.Errorf("expected dimensions clamped to 1x1, got %dx%d", w, h)
	}

	if got := ScaleFactor(4.0, 0); got != 1 {
		t.Errorf("expected 1 for zero current size, got %v", got)
	}
}

func TestIsJPEGExt(t *testing.T) {
	for _, ext := range []string{".jpg", ".JPG", ".jpeg", ".JpEg"} {
		if !IsJPEGExt(ext) {
			t.Errorf("%s should be jpeg", ext)
		}
	}
	for _, ext := range []string{".png", ".gif", "", ".jpgx"} {
		if IsJPEGExt(ext) {
			t.Errorf("%s should not be jpeg", ext)
		}
	}
}

func TestOptimize_WithinBudgetReturnsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "small.png", 16, 16)
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	o := NewOptimizer(DefaultOptions())
	res := o.Optimize(path, 4.0)

	if res.Path != path {
		t.Errorf("expected original path, got %s", res.Path)
	}
	if res.Optimized || res.Failed() {
		t.Errorf("expected untouched result, got %+v", res)
	}
	if _, err := os.Stat(DerivedPath(path)); !os.IsNotExist(err) {
		t.Error("no optimized file should be created")
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Error("original bytes must not change")
	}
}

func TestOptimize_NonPositiveBudgetUsesDefault(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "small.png", 16, 16)

	o := NewOptimizer(DefaultOptions())
	for _, budget := range []float64{0, -1} {
		res := o.Optimize(path, budget)
		if res.Path != path || res.Optimized {
			t.Errorf("budget %v: expected original path, got %+v", budget, res)
		}
	}
}

func TestOptimize_ResizesJPEG(t *testing.T) {
	dir := t.TempDir()
	path := writeJPEG(t, dir, "photo.jpg", 400, 300)
	sizeMB := fileSizeMB(t, path)
	budget := sizeMB / 4

	o := NewOptimizer(DefaultOptions())
	res := o.Optimize(path, budget)

	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	want := filepath.Join(dir, "photo_optimized.jpg")
	if res.Path != want {
		t.Fatalf("expected %s, got %s", want, res.Path)
	}

	wantW, wantH := TargetDimensions(400, 300, ScaleFactor(budget, sizeMB))
	if res.Width != wantW || res.Height != wantH {
		t.Errorf("expected %dx%d, got %dx%d", wantW, wantH, res.Width, res.Height)
	}

	f, err := os.Open(res.Path)
	if err != nil {
		t.Fatalf("optimized file missing: %v", err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("optimized file not decodable: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg output, got %s", format)
	}
	if cfg.Width != wantW || cfg.Height != wantH {
		t.Errorf("file dimensions %dx%d, want %dx%d", cfg.Width, cfg.Height, wantW, wantH)
	}

	// 原始檔不得被修改
	if _, err := os.Stat(path); err != nil {
		t.Errorf("original should still exist: %v", err)
	}
}

func TestOptimize_JPEGEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeJPEG(t, dir, "scan.jpg", 1000, 800)
	sizeMB := fileSizeMB(t, path)

	// 預算為檔案大小的 2/3 時，1000x800 → 816x653
	res := NewOptimizer(DefaultOptions()).Optimize(path, sizeMB*4/6)
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if res.Width != 816 || res.Height != 653 {
		t.Fatalf("expected 816x653, got %dx%d", res.Width, res.Height)
	}

	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("optimized file missing: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("optimized file not decodable: %v", err)
	}
	if format != "jpeg" || cfg.Width != 816 || cfg.Height != 653 {
		t.Errorf("unexpected output %s %dx%d", format, cfg.Width, cfg.Height)
	}
	if res.OptimizedSize != int64(len(got)) {
		t.Errorf("OptimizedSize %d does not match file size %d", res.OptimizedSize, len(got))
	}

	want := referenceEncoding(t, path, 816, 653, imaging.JPEG, imaging.JPEGQuality(85))
	if !bytes.Equal(got, want) {
		t.Error("output differs from a quality 85 encoding of the resized image")
	}
	if other := referenceEncoding(t, path, 816, 653, imaging.JPEG, imaging.JPEGQuality(75)); bytes.Equal(got, other) {
		t.Error("output must not use the encoder default quality")
	}
}

func TestOptimize_PNGKeepsFormat(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "diagram.png", 200, 150)

	res := NewOptimizer(DefaultOptions()).Optimize(path, fileSizeMB(t, path)/2)
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}

	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("optimized file missing: %v", err)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(got)); err != nil || format != "png" {
		t.Fatalf("expected png output, got %q (%v)", format, err)
	}
	want := referenceEncoding(t, path, res.Width, res.Height, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	if !bytes.Equal(got, want) {
		t.Error("output differs from a best compression png encoding")
	}
}

func TestOptimize_UppercaseExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeJPEG(t, dir, "SCAN.JPG", 200, 200)

	o := NewOptimizer(DefaultOptions())
	res := o.Optimize(path, fileSizeMB(t, path)/2)

	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if res.Path != filepath.Join(dir, "SCAN_optimized.JPG") {
		t.Errorf("unexpected path: %s", res.Path)
	}
}

func TestOptimize_ResizesPNG(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "diagram.png", 300, 200)
	sizeMB := fileSizeMB(t, path)
	budget := sizeMB / 3

	o := NewOptimizer(DefaultOptions())
	res := o.Optimize(path, budget)

	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if res.Path != filepath.Join(dir, "diagram_optimized.png") {
		t.Errorf("unexpected path: %s", res.Path)
	}
	wantW, wantH := TargetDimensions(300, 200, ScaleFactor(budget, sizeMB))
	w, h, err := Dimensions(res.Path)
	if err != nil {
		t.Fatalf("Dimensions failed: %v", err)
	}
	if w != wantW || h != wantH {
		t.Errorf("expected %dx%d, got %dx%d", wantW, wantH, w, h)
	}
}

func TestOptimize_RepeatedCallsReuseCanonicalPath(t *testing.T) {
	dir := t.TempDir()
	path := writeJPEG(t, dir, "photo.jpg", 300, 300)
	budget := fileSizeMB(t, path) / 4

	o := NewOptimizer(DefaultOptions())
	first := o.Optimize(path, budget)
	second := o.Optimize(path, budget)

	if first.Failed() || second.Failed() {
		t.Fatalf("unexpected failure: %v / %v", first.Err, second.Err)
	}
	if first.Path != second.Path {
		t.Errorf("expected same output path, got %s and %s", first.Path, second.Path)
	}

	// 對輸出再次最佳化會串接後綴
	third := o.Optimize(first.Path, fileSizeMB(t, first.Path)/4)
	if third.Failed() {
		t.Fatalf("unexpected failure: %v", third.Err)
	}
	if third.Path != filepath.Join(dir, "photo_optimized_optimized.jpg") {
		t.Errorf("unexpected chained path: %s", third.Path)
	}
}

func TestOptimize_DecodeFailureFallsBack(t *testing.T) {
	logs := observeLogs(t)

	dir := t.TempDir()
	valid := writeJPEG(t, dir, "valid.jpg", 200, 200)
	data, err := os.ReadFile(valid)
	if err != nil {
		t.Fatal(err)
	}
	broken := filepath.Join(dir, "broken.jpg")
	if err := os.WriteFile(broken, data[:len(data)/2], 0644); err != nil {
		t.Fatal(err)
	}

	o := NewOptimizer(DefaultOptions())
	res := o.Optimize(broken, 0.001)

	if res.Path != broken {
		t.Errorf("expected fallback to original path, got %s", res.Path)
	}
	if res.Kind != DecodeFailure {
		t.Errorf("expected DecodeFailure, got %q", res.Kind)
	}
	if !errors.Is(res.Err, common.ErrImageDecode) {
		t.Errorf("expected ErrImageDecode, got %v", res.Err)
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() == 0 {
		t.Error("expected an error-level log record")
	}
	if _, err := os.Stat(DerivedPath(broken)); !os.IsNotExist(err) {
		t.Error("no output should be written on decode failure")
	}
}

func TestOptimize_EncodeFailureFallsBack(t *testing.T) {
	logs := observeLogs(t)

	dir := t.TempDir()
	src := writePNG(t, dir, "picture.png", 100, 100)
	webp := filepath.Join(dir, "picture.webp")
	if err := os.Rename(src, webp); err != nil {
		t.Fatal(err)
	}

	o := NewOptimizer(DefaultOptions())
	res := o.Optimize(webp, 0.001)

	if res.Path != webp {
		t.Errorf("expected fallback to original path, got %s", res.Path)
	}
	if res.Kind != EncodeFailure {
		t.Errorf("expected EncodeFailure, got %q", res.Kind)
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() == 0 {
		t.Error("expected an error-level log record")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the original file, found %d entries", len(entries))
	}
}

func TestOptimize_MissingFileFallsBack(t *testing.T) {
	logs := observeLogs(t)

	path := filepath.Join(t.TempDir(), "missing.jpg")
	res := NewOptimizer(DefaultOptions()).Optimize(path, 1)

	if res.Path != path || res.Kind != FilesystemFailure {
		t.Errorf("unexpected result: %+v", res)
	}
	if !errors.Is(res.Err, common.ErrFilesystem) {
		t.Errorf("expected ErrFilesystem, got %v", res.Err)
	}
	if logs.FilterMessage("Using original unoptimized image").Len() != 1 {
		t.Error("expected fallback warning")
	}
}

func TestOptimize_DirectoryFallsBack(t *testing.T) {
	dir := t.TempDir()
	res := NewOptimizer(DefaultOptions()).Optimize(dir, 1)
	if res.Path != dir || res.Kind != FilesystemFailure {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestOptimize_ConcurrentCallsSamePath(t *testing.T) {
	dir := t.TempDir()
	path := writeJPEG(t, dir, "shared.jpg", 300, 200)
	budget := fileSizeMB(t, path) / 4

	o := NewOptimizer(DefaultOptions())
	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Optimize(path, budget)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res.Failed() {
			t.Fatalf("call %d failed: %v", i, res.Err)
		}
		if res.Path != results[0].Path {
			t.Errorf("call %d returned %s", i, res.Path)
		}
	}
	if _, _, err := Dimensions(results[0].Path); err != nil {
		t.Errorf("output should be a valid image: %v", err)
	}
	if n := o.locks.size(); n != 0 {
		t.Errorf("expected all path locks released, %d remain", n)
	}
}

func TestOptimize_ConcurrentBudgetsReportOwnOutput(t *testing.T) {
	dir := t.TempDir()
	path := writeJPEG(t, dir, "shared.jpg", 320, 240)
	sizeMB := fileSizeMB(t, path)
	budgets := []float64{sizeMB / 2, sizeMB / 8}

	o := NewOptimizer(DefaultOptions())
	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Optimize(path, budgets[i%len(budgets)])
		}(i)
	}
	wg.Wait()

	// 每個結果的 OptimizedSize 必須對應自己寫出的內容
	sizes := make(map[int]int64)
	for _, res := range results {
		if res.Failed() {
			t.Fatalf("unexpected failure: %v", res.Err)
		}
		if _, ok := sizes[res.Width]; !ok {
			sizes[res.Width] = int64(len(referenceEncoding(t, path, res.Width, res.Height, imaging.JPEG, imaging.JPEGQuality(85))))
		}
		if res.OptimizedSize != sizes[res.Width] {
			t.Errorf("%dx%d: OptimizedSize %d, want %d", res.Width, res.Height, res.OptimizedSize, sizes[res.Width])
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.ImageConfig{MaxSizeMB: 2, JPEGQuality: 70, Suffix: "_api"})
	if opts.DefaultMaxSizeMB != 2 || opts.JPEGQuality != 70 || opts.Suffix != "_api" {
		t.Errorf("unexpected options: %+v", opts)
	}

	opts = OptionsFromConfig(config.ImageConfig{})
	if opts != DefaultOptions() {
		t.Errorf("expected defaults, got %+v", opts)
	}
}
