package watcher

import (
	"errors"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"image-optimizer/internal/core/image"
	"image-optimizer/internal/pkg/common"
)

// dropImage 在暫存目錄產生圖片後 rename 進監看目錄
func dropImage(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	img := imaging.New(w, h, color.NRGBA{A: 255})
	for i := range img.Pix {
		if i%4 != 3 {
			img.Pix[i] = uint8(rng.Intn(256))
		}
	}
	staging := filepath.Join(t.TempDir(), name)
	if err := imaging.Save(img, staging, imaging.JPEGQuality(95)); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(staging, dst); err != nil {
		t.Fatalf("failed to move fixture: %v", err)
	}
	return dst
}

func startWatcher(t *testing.T, maxSizeMB float64) (*Watcher, string, string) {
	t.Helper()
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")

	w, err := New(in, out, image.NewOptimizer(image.DefaultOptions()), maxSizeMB)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	w.SetDebounce(50 * time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w, in, out
}

func waitEvent(t *testing.T, w *Watcher) Processed {
	t.Helper()
	select {
	case p, ok := <-w.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return p
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for processed event")
	}
	return Processed{}
}

func TestWatcher_OptimizesAndCopies(t *testing.T) {
	w, in, out := startWatcher(t, 0.02)

	src := dropImage(t, in, "scan.jpg", 300, 300)
	p := waitEvent(t, w)

	if p.Source != src {
		t.Errorf("expected source %s, got %s", src, p.Source)
	}
	if p.Err != nil {
		t.Fatalf("unexpected error: %v", p.Err)
	}
	if !p.Result.Optimized || p.Result.Path != filepath.Join(in, "scan_optimized.jpg") {
		t.Errorf("expected optimized result, got %+v", p.Result)
	}
	if p.Output != filepath.Join(out, "scan_optimized.jpg") {
		t.Errorf("unexpected output path %s", p.Output)
	}
	if _, err := os.Stat(p.Output); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestWatcher_CopiesSmallImageAsIs(t *testing.T) {
	w, in, out := startWatcher(t, 4)

	dropImage(t, in, "thumb.jpg", 16, 16)
	p := waitEvent(t, w)

	if p.Result.Optimized {
		t.Error("small image should not be optimized")
	}
	if p.Output != filepath.Join(out, "thumb.jpg") {
		t.Errorf("unexpected output path %s", p.Output)
	}
}

func TestWatcher_IgnoresNonCandidates(t *testing.T) {
	w, in, _ := startWatcher(t, 4)

	os.WriteFile(filepath.Join(in, "notes.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(in, ".hidden.jpg"), []byte("x"), 0644)
	dropImage(t, in, "old_optimized.jpg", 8, 8)
	time.Sleep(200 * time.Millisecond)

	want := dropImage(t, in, "real.jpg", 8, 8)
	if p := waitEvent(t, w); p.Source != want {
		t.Errorf("expected only %s to be processed, got %s", want, p.Source)
	}
}

func TestWatcher_StopClosesEvents(t *testing.T) {
	w, _, _ := startWatcher(t, 4)

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("events channel should be closed after Stop")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir, dir, nil, 4); !common.IsValidationError(err) {
		t.Errorf("expected validation error for identical dirs, got %v", err)
	}

	w, err := New(filepath.Join(dir, "missing"), filepath.Join(dir, "out"), nil, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()
	if err := w.Start(); !errors.Is(err, common.ErrFilesystem) {
		t.Errorf("expected ErrFilesystem for missing input dir, got %v", err)
	}
}
