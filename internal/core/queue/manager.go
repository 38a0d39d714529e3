package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"image-optimizer/internal/core/image"
	"image-optimizer/internal/infrastructure/config"
	"image-optimizer/internal/pkg/common"

	"go.uber.org/zap"
)

// Job 單一最佳化工作
type Job struct {
	Path      string
	MaxSizeMB float64
}

// JobResult 處理結果
type JobResult struct {
	Result image.Result
	Error  error
}

// request 隊列請求
type request struct {
	ctx    context.Context
	job    Job
	result chan JobResult
}

// Status 隊列狀態
type Status struct {
	QueueLength    int  `json:"queue_length"`
	ProcessedCount int  `json:"processed_count"`
	MaxQueueSize   int  `json:"max_queue_size"`
	Workers        int  `json:"workers"`
	Running        bool `json:"running"`
}

// Manager 批次處理隊列管理器
type Manager struct {
	optimizer *image.Optimizer
	workers   int
	maxSize   int
	queue     chan *request
	done      chan struct{}
	processed int64
	running   int32
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager 創建新的隊列管理器
func NewManager(cfg config.QueueConfig, optimizer *image.Optimizer) *Manager {
	workers := cfg.Workers
	if workers < config.MinWorkers {
		workers = config.MinWorkers
	}
	if workers > config.MaxWorkers {
		workers = config.MaxWorkers
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = workers
	}
	if optimizer == nil {
		optimizer = image.NewOptimizer(image.DefaultOptions())
	}

	return &Manager{
		optimizer: optimizer,
		workers:   workers,
		maxSize:   maxSize,
		queue:     make(chan *request, maxSize),
		done:      make(chan struct{}),
	}
}

// Optimizer 回傳使用中的最佳化器
func (m *Manager) Optimizer() *image.Optimizer {
	return m.optimizer
}

// Start 啟動 worker，重複呼叫無作用
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		atomic.StoreInt32(&m.running, 1)
		for i := 0; i < m.workers; i++ {
			m.wg.Add(1)
			go m.worker(ctx, i)
		}
		common.LogInfo("Queue workers started",
			zap.Int("workers", m.workers),
			zap.Int("max_queue_size", m.maxSize),
		)

		go func() {
			m.wg.Wait()
			atomic.StoreInt32(&m.running, 0)
		}()
	})
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case req := <-m.queue:
			m.process(req, id)
		}
	}
}

func (m *Manager) process(req *request, id int) {
	if err := req.ctx.Err(); err != nil {
		req.result <- JobResult{Result: cancelledResult(req.job.Path, err), Error: err}
		return
	}

	res := m.optimizer.Optimize(req.job.Path, req.job.MaxSizeMB)
	atomic.AddInt64(&m.processed, 1)

	common.LogDebug("Job processed",
		zap.Int("worker", id),
		zap.String("path", req.job.Path),
		zap.String("result", res.Path),
		zap.Bool("optimized", res.Optimized),
	)
	req.result <- JobResult{Result: res}
}

// Enqueue 將工作加入隊列，隊列已滿或已關閉時回傳錯誤
func (m *Manager) Enqueue(ctx context.Context, job Job) (<-chan JobResult, error) {
	// 檢查隊列容量
	if len(m.queue) >= m.maxSize {
		return nil, common.ErrQueueFull
	}
	return m.submit(ctx, job)
}

// submit 阻塞直到工作進入隊列
func (m *Manager) submit(ctx context.Context, job Job) (<-chan JobResult, error) {
	select {
	case <-m.done:
		return nil, common.ErrQueueClosed
	default:
	}

	req := &request{
		ctx:    ctx,
		job:    job,
		result: make(chan JobResult, 1),
	}

	select {
	case m.queue <- req:
		common.LogDebug("Job enqueued",
			zap.String("path", job.Path),
			zap.Int("queue_length", len(m.queue)),
			zap.Int("max_queue_size", m.maxSize),
		)
		return req.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, common.ErrQueueClosed
	}
}

// Run 將多個路徑分派給 worker，結果依輸入順序回傳
func (m *Manager) Run(ctx context.Context, paths []string, maxSizeMB float64) []image.Result {
	m.Start(ctx)

	results := make([]image.Result, len(paths))
	pending := make([]<-chan JobResult, len(paths))

	for i, path := range paths {
		ch, err := m.submit(ctx, Job{Path: path, MaxSizeMB: maxSizeMB})
		if err != nil {
			results[i] = cancelledResult(path, err)
			continue
		}
		pending[i] = ch
	}

	for i, ch := range pending {
		if ch == nil {
			continue
		}
		select {
		case r := <-ch:
			results[i] = r.Result
		case <-ctx.Done():
			results[i] = cancelledResult(paths[i], ctx.Err())
		case <-m.done:
			results[i] = cancelledResult(paths[i], common.ErrQueueClosed)
		}
	}

	common.LogInfo("Batch completed",
		zap.Int("total", len(paths)),
		zap.Int("optimized", countOptimized(results)),
		zap.Int("failed", countFailed(results)),
	)
	return results
}

// Status 獲取隊列狀態
func (m *Manager) Status() *Status {
	return &Status{
		QueueLength:    len(m.queue),
		ProcessedCount: int(atomic.LoadInt64(&m.processed)),
		MaxQueueSize:   m.maxSize,
		Workers:        m.workers,
		Running:        atomic.LoadInt32(&m.running) == 1,
	}
}

// Close 關閉隊列管理器並等待 worker 結束
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}

// cancelledResult 未處理的工作回傳原路徑
func cancelledResult(path string, err error) image.Result {
	return image.Result{
		Path:     path,
		Original: path,
		Err:      err,
	}
}

func countOptimized(results []image.Result) int {
	n := 0
	for _, r := range results {
		if r.Optimized {
			n++
		}
	}
	return n
}

func countFailed(results []image.Result) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}
