package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"image-optimizer/internal/core/cache"
	"image-optimizer/internal/core/image"
	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"
)

func writeNoiseJPEG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	img := imaging.New(w, h, color.NRGBA{A: 255})
	for i := range img.Pix {
		if i%4 != 3 {
			img.Pix[i] = uint8(rng.Intn(256))
		}
	}
	path := filepath.Join(dir, "scan.jpg")
	if err := imaging.Save(img, path, imaging.JPEGQuality(95)); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func testConfig(baseURL string) config.AnalyzerConfig {
	return config.AnalyzerConfig{
		Enabled:   true,
		BaseURL:   baseURL,
		APIKey:    "sk-test",
		Model:     "vision-model",
		MaxTokens: 100,
		Timeout:   5 * time.Second,
	}
}

func TestAnalyze_Disabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AnalyzerConfig
	}{
		{"disabled", config.AnalyzerConfig{Enabled: false, APIKey: "sk"}},
		{"missing key", config.AnalyzerConfig{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.cfg, 4, nil, nil)
			if c.Enabled() {
				t.Error("client should not be enabled")
			}
			if _, err := c.Analyze(context.Background(), "x.jpg", "describe"); !errors.Is(err, common.ErrAnalyzerDisabled) {
				t.Errorf("expected ErrAnalyzerDisabled, got %v", err)
			}
		})
	}
}

func TestAnalyze_EmptyPrompt(t *testing.T) {
	c := NewClient(testConfig("http://127.0.0.1:1"), 4, nil, nil)
	if _, err := c.Analyze(context.Background(), "x.jpg", "   "); !common.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestAnalyze_SendsOptimizedImage(t *testing.T) {
	var requests int32
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing request id header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"gen-1","model":"vision-model","choices":[{"message":{"content":"a receipt"}}],"usage":{"total_tokens":42}}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	path := writeNoiseJPEG(t, dir, 300, 300)

	c := NewClient(testConfig(server.URL), 0.02, image.NewOptimizer(image.DefaultOptions()),
		cache.NewManager(config.CacheConfig{Enabled: true, MaxSize: 8, TTL: time.Hour}))

	analysis, err := c.Analyze(context.Background(), path, "  describe this  ")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if analysis.Content != "a receipt" || analysis.Usage.TotalTokens != 42 || analysis.ID != "gen-1" {
		t.Errorf("unexpected analysis: %+v", analysis)
	}
	if !analysis.Optimized || analysis.ImagePath != filepath.Join(dir, "scan_optimized.jpg") {
		t.Errorf("expected optimized image submitted, got %+v", analysis)
	}
	if analysis.CacheHit {
		t.Error("first submission should not hit the cache")
	}

	if got.Model != "vision-model" || got.MaxTokens != 100 || len(got.Messages) != 1 {
		t.Fatalf("unexpected request: %+v", got)
	}
	parts := got.Messages[0].Content
	if len(parts) != 2 || parts[0].Text != "describe this" || parts[1].Type != "image_url" {
		t.Fatalf("unexpected content parts: %+v", parts)
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("unexpected image url prefix: %.30s", parts[1].ImageURL.URL)
	}

	again, err := c.Analyze(context.Background(), path, "describe this")
	if err != nil {
		t.Fatalf("second Analyze failed: %v", err)
	}
	if !again.CacheHit {
		t.Error("second submission should reuse the cached encoding")
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Errorf("expected 2 API requests, got %d", n)
	}
}

func TestAnalyze_APIErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   int
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, http.StatusTooManyRequests},
		{"empty choices", http.StatusOK, `{"id":"x","choices":[]}`, 0},
		{"bad json", http.StatusOK, `not json`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			path := writeNoiseJPEG(t, t.TempDir(), 16, 16)
			c := NewClient(testConfig(server.URL), 4, nil, nil)

			_, err := c.Analyze(context.Background(), path, "describe")
			if !errors.Is(err, common.ErrAnalyzerFailed) {
				t.Fatalf("expected ErrAnalyzerFailed, got %v", err)
			}
			var statusErr *StatusError
			if tt.code != 0 {
				if !errors.As(err, &statusErr) || statusErr.StatusCode != tt.code {
					t.Errorf("expected status %d, got %v", tt.code, err)
				}
			} else if errors.As(err, &statusErr) {
				t.Errorf("unexpected status error: %v", statusErr)
			}
		})
	}
}

func TestAnalyze_MissingImage(t *testing.T) {
	c := NewClient(testConfig("http://127.0.0.1:1"), 4, nil, nil)
	_, err := c.Analyze(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), "describe")
	if !errors.Is(err, common.ErrFilesystem) {
		t.Errorf("expected ErrFilesystem, got %v", err)
	}
}

func TestPrepare_CachesPathOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeNoiseJPEG(t, dir, 300, 300)
	store := cache.NewManager(config.CacheConfig{Enabled: true, MaxSize: 8, TTL: time.Hour})
	defer store.Close()

	c := NewClient(testConfig("http://127.0.0.1:1"), 0.02, image.NewOptimizer(image.DefaultOptions()), store)
	ctx := context.Background()

	img, hit, err := c.prepare(ctx, path)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if hit || !img.Optimized || !strings.HasPrefix(img.DataURI, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected prepared image: path=%s hit=%v", img.Path, hit)
	}

	// 快取值不含 data URI
	stats := store.Stats()
	if stats.Size != 1 || stats.Bytes > 512 {
		t.Errorf("expected a small cache entry, got %+v", stats)
	}

	again, hit, err := c.prepare(ctx, path)
	if err != nil || !hit || again.DataURI != img.DataURI {
		t.Fatalf("expected cache hit with same encoding, hit=%v err=%v", hit, err)
	}

	// 輸出被移除後重新最佳化
	if err := os.Remove(img.Path); err != nil {
		t.Fatal(err)
	}
	rebuilt, hit, err := c.prepare(ctx, path)
	if err != nil {
		t.Fatalf("prepare after removal failed: %v", err)
	}
	if hit || rebuilt.Path != img.Path {
		t.Errorf("expected stale entry to be rebuilt, hit=%v path=%s", hit, rebuilt.Path)
	}
	if _, err := os.Stat(rebuilt.Path); err != nil {
		t.Errorf("expected optimized output recreated: %v", err)
	}
}
