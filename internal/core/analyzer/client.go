package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"image-optimizer/internal/core/cache"
	"image-optimizer/internal/core/image"
	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Analysis 分析結果
type Analysis struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Content   string    `json:"content"`
	ImagePath string    `json:"image_path"`
	Optimized bool      `json:"optimized"`
	CacheHit  bool      `json:"cache_hit"`
	Usage     UsageInfo `json:"usage"`
}

// UsageInfo 使用量
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// contentPart 訊息內容
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// chatRequest OpenAI 相容的請求
type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// chatResponse OpenAI 相容的響應
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage UsageInfo `json:"usage"`
}

// StatusError API 回傳非 200 狀態
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analysis API returned status %d: %s", e.StatusCode, e.Body)
}

// Client 圖片分析 API 客戶端
type Client struct {
	config    config.AnalyzerConfig
	maxSizeMB float64
	optimizer *image.Optimizer
	cache     cache.Cache
	client    *resty.Client
}

// NewClient 創建分析客戶端，cache 可為 nil
func NewClient(cfg config.AnalyzerConfig, maxSizeMB float64, optimizer *image.Optimizer, c cache.Cache) *Client {
	if optimizer == nil {
		optimizer = image.NewOptimizer(image.DefaultOptions())
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey)).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Title", "Image Optimizer")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &Client{
		config:    cfg,
		maxSizeMB: maxSizeMB,
		optimizer: optimizer,
		cache:     c,
		client:    client,
	}
}

// Enabled 是否可送出分析請求
func (c *Client) Enabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}

// Analyze 最佳化圖片後連同提示詞送出分析
func (c *Client) Analyze(ctx context.Context, imagePath, prompt string) (*Analysis, error) {
	if !c.Enabled() {
		return nil, common.ErrAnalyzerDisabled
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, common.NewValidationError("prompt is required")
	}

	start := time.Now()
	img, hit, err := c.prepare(ctx, imagePath)
	if err != nil {
		return nil, err
	}
	dataURI := img.DataURI

	requestID := common.GenerateUUID()
	req := chatRequest{
		Model: c.config.Model,
		Messages: []message{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURI}},
				},
			},
		},
		MaxTokens: c.config.MaxTokens,
	}

	common.LogInfo("Sending analysis request",
		zap.String("request_id", requestID),
		zap.String("model", c.config.Model),
		zap.String("image_path", img.Path),
		zap.Int("data_uri_length", len(dataURI)),
		zap.Bool("cache_hit", hit),
	)

	// 發送請求
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetBody(req).
		Post("/chat/completions")
	if err != nil {
		common.LogError("Analysis request failed", zap.String("request_id", requestID), zap.Error(err))
		return nil, common.ErrAnalyzerFailed.WithError(fmt.Errorf("failed to send request: %w", err))
	}

	if resp.StatusCode() != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
		common.LogError("Analysis API returned error",
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode()),
		)
		return nil, common.ErrAnalyzerFailed.WithError(statusErr)
	}

	// 解析回應
	var result chatResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, common.ErrAnalyzerFailed.WithError(fmt.Errorf("failed to parse response: %w", err))
	}
	if len(result.Choices) == 0 {
		return nil, common.ErrAnalyzerFailed.WithError(fmt.Errorf("no choices in response"))
	}

	common.LogInfo("Analysis completed",
		zap.String("request_id", requestID),
		zap.Duration("duration", time.Since(start)),
		zap.Int("total_tokens", result.Usage.TotalTokens),
	)

	return &Analysis{
		ID:        result.ID,
		Model:     result.Model,
		Content:   result.Choices[0].Message.Content,
		ImagePath: img.Path,
		Optimized: img.Optimized,
		CacheHit:  hit,
		Usage:     result.Usage,
	}, nil
}

// preparedImage 最佳化後要送出的圖片，快取只保存路徑
type preparedImage struct {
	Path      string `json:"path"`
	Optimized bool   `json:"optimized"`
	DataURI   string `json:"-"`
}

// optimize 依預算最佳化，失敗時沿用原圖
func (c *Client) optimize(imagePath string) preparedImage {
	res := c.optimizer.Optimize(imagePath, c.maxSizeMB)
	if res.Failed() {
		common.LogWarn("Submitting original image", zap.String("path", imagePath), zap.Error(res.Err))
	}
	return preparedImage{Path: res.Path, Optimized: res.Optimized}
}

// prepare 最佳化並產生 data URI，來源檔案未變更時沿用快取的最佳化結果
func (c *Client) prepare(ctx context.Context, imagePath string) (*preparedImage, bool, error) {
	key, err := cache.FileKey(imagePath)
	if err != nil {
		return nil, false, err
	}
	key = fmt.Sprintf("%s:%g", key, c.maxSizeMB)

	raw, hit, err := cache.GetOrLoad(ctx, c.cache, key, func() (string, error) {
		data, err := json.Marshal(c.optimize(imagePath))
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	if err != nil {
		return nil, false, err
	}

	var img preparedImage
	if err := json.Unmarshal([]byte(raw), &img); err != nil {
		return nil, false, common.ErrInternalError.WithError(fmt.Errorf("corrupt cache entry: %w", err))
	}

	if hit && !c.usable(img) {
		// 快取指向的輸出已被移除或覆寫，重新最佳化
		common.LogWarn("Cached image is stale, optimizing again", zap.String("path", img.Path))
		img, hit = c.optimize(imagePath), false
	}

	img.DataURI, err = image.DataURI(img.Path)
	if err != nil {
		return nil, false, err
	}
	return &img, hit, nil
}

// usable 快取的輸出仍存在，且最佳化結果仍在預算內
func (c *Client) usable(img preparedImage) bool {
	info, err := os.Stat(img.Path)
	if err != nil {
		return false
	}
	return !img.Optimized || common.BytesToMB(info.Size()) <= c.maxSizeMB
}
