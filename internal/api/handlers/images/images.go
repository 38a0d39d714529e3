package images

import (
	"fmt"
	"net/http"

	"image-optimizer/internal/core/analyzer"
	"image-optimizer/internal/core/image"
	"image-optimizer/internal/core/queue"
	"image-optimizer/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OptimizeRequest 單張最佳化請求
type OptimizeRequest struct {
	Path      string   `json:"path" binding:"required"`
	MaxSizeMB *float64 `json:"max_size_mb,omitempty"`
}

// BatchRequest 批次最佳化請求，paths 可包含目錄
type BatchRequest struct {
	Paths     []string `json:"paths" binding:"required,min=1"`
	Recursive bool     `json:"recursive"`
	MaxSizeMB *float64 `json:"max_size_mb,omitempty"`
}

// CopyRequest 複製請求
type CopyRequest struct {
	Path      string `json:"path" binding:"required"`
	OutputDir string `json:"output_dir" binding:"required"`
}

// EncodeRequest base64 編碼請求
type EncodeRequest struct {
	Path    string `json:"path" binding:"required"`
	DataURI bool   `json:"data_uri"`
}

// AnalyzeRequest 分析請求
type AnalyzeRequest struct {
	Path   string `json:"path" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
}

// ResultResponse 最佳化結果，失敗時附上錯誤訊息
type ResultResponse struct {
	image.Result
	Error string `json:"error,omitempty"`
}

// BatchResponse 批次結果
type BatchResponse struct {
	Results   []ResultResponse `json:"results"`
	Total     int              `json:"total"`
	Optimized int              `json:"optimized"`
	Failed    int              `json:"failed"`
}

// EncodeResponse 編碼結果
type EncodeResponse struct {
	Data   string `json:"data"`
	Length int    `json:"length"`
}

// Handler 圖片處理程序
type Handler struct {
	queue     *queue.Manager
	analyzer  *analyzer.Client
	roots     *Roots
	maxSizeMB float64
	debug     bool
}

// NewHandler 創建圖片處理程序，analyzer 可為 nil。請求中的路徑都必須位於 roots 內
func NewHandler(q *queue.Manager, a *analyzer.Client, roots *Roots, maxSizeMB float64, debug bool) *Handler {
	return &Handler{
		queue:     q,
		analyzer:  a,
		roots:     roots,
		maxSizeMB: maxSizeMB,
		debug:     debug,
	}
}

// Register 註冊路由
func (h *Handler) Register(group *gin.RouterGroup) {
	group.POST("/optimize", h.HandleOptimize)
	group.POST("/batch", h.HandleBatch)
	group.POST("/copy", h.HandleCopy)
	group.POST("/encode", h.HandleEncode)
	group.GET("/info", h.HandleInfo)
	group.POST("/analyze", h.HandleAnalyze)
}

func (h *Handler) budget(requested *float64) float64 {
	if requested != nil {
		return *requested
	}
	return h.maxSizeMB
}

func toResponse(res image.Result) ResultResponse {
	resp := ResultResponse{Result: res}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

// respondError 以 CustomError 格式回傳錯誤
func (h *Handler) respondError(c *gin.Context, err error) {
	ce := common.AsCustomError(err)
	common.LogError("Request failed",
		zap.String("request_id", requestid.Get(c)),
		zap.String("path", c.Request.URL.Path),
		zap.String("code", ce.Code),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(ce.Status, ce.Response(h.debug))
}

func (h *Handler) bindError(c *gin.Context, err error) {
	h.respondError(c, common.ErrInvalidRequest.WithError(err))
}

// allowed 檢查所有路徑，任一不在允許目錄內即回傳 403
func (h *Handler) allowed(c *gin.Context, paths ...string) bool {
	for _, p := range paths {
		if err := h.roots.Check(p); err != nil {
			h.respondError(c, err)
			return false
		}
	}
	return true
}

// HandleOptimize 單張最佳化
func (h *Handler) HandleOptimize(c *gin.Context) {
	var req OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	common.LogInfo("開始處理最佳化請求",
		zap.String("request_id", requestid.Get(c)),
		zap.String("path", req.Path),
	)
	if !h.allowed(c, req.Path) {
		return
	}

	res := h.queue.Optimizer().Optimize(req.Path, h.budget(req.MaxSizeMB))
	c.JSON(http.StatusOK, toResponse(res))
}

// HandleBatch 批次最佳化
func (h *Handler) HandleBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	if !h.allowed(c, req.Paths...) {
		return
	}

	var paths []string
	for _, p := range req.Paths {
		expanded, err := h.queue.ExpandPaths(p, req.Recursive)
		if err != nil {
			h.respondError(c, err)
			return
		}
		paths = append(paths, expanded...)
	}
	// 目錄內的符號連結可能指向外部
	if !h.allowed(c, paths...) {
		return
	}

	common.LogInfo("開始處理批次請求",
		zap.String("request_id", requestid.Get(c)),
		zap.Int("inputs", len(req.Paths)),
		zap.Int("files", len(paths)),
	)

	results := h.queue.Run(c.Request.Context(), paths, h.budget(req.MaxSizeMB))

	resp := BatchResponse{Results: make([]ResultResponse, 0, len(results)), Total: len(results)}
	for _, r := range results {
		if r.Optimized {
			resp.Optimized++
		}
		if r.Failed() {
			resp.Failed++
		}
		resp.Results = append(resp.Results, toResponse(r))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCopy 複製圖片到輸出目錄
func (h *Handler) HandleCopy(c *gin.Context) {
	var req CopyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	if !h.allowed(c, req.Path, req.OutputDir) {
		return
	}

	output, err := image.CopyToFolder(req.Path, req.OutputDir)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": output})
}

// HandleEncode 將圖片編碼為 base64 或 data URI
func (h *Handler) HandleEncode(c *gin.Context) {
	var req EncodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	if !h.allowed(c, req.Path) {
		return
	}
	if !image.IsSupported(req.Path) {
		h.respondError(c, common.ErrInvalidImageFormat.WithError(fmt.Errorf("unsupported image format: %s", image.FormatFromPath(req.Path))))
		return
	}

	var (
		data string
		err  error
	)
	if req.DataURI {
		data, err = image.DataURI(req.Path)
	} else {
		data, err = image.EncodeBase64(req.Path)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, EncodeResponse{Data: data, Length: len(data)})
}

// HandleInfo 查詢圖片資訊
func (h *Handler) HandleInfo(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		h.respondError(c, common.NewValidationError("path is required"))
		return
	}

	if !h.allowed(c, path) {
		return
	}

	asset, err := image.Inspect(path)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// HandleAnalyze 最佳化後送出分析
func (h *Handler) HandleAnalyze(c *gin.Context) {
	if h.analyzer == nil || !h.analyzer.Enabled() {
		h.respondError(c, common.ErrAnalyzerDisabled)
		return
	}

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	if !h.allowed(c, req.Path) {
		return
	}

	analysis, err := h.analyzer.Analyze(c.Request.Context(), req.Path, req.Prompt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}
