package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"image-optimizer/internal/core/image"
	"image-optimizer/internal/pkg/common"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce 同一檔案連續事件的合併間隔
const DefaultDebounce = 500 * time.Millisecond

// Processed 單一檔案的處理結果
type Processed struct {
	Source string       `json:"source"`
	Output string       `json:"output"`
	Result image.Result `json:"result"`
	Err    error        `json:"-"`
}

// Watcher 監看輸入目錄，新圖片最佳化後複製到輸出目錄
type Watcher struct {
	inputDir  string
	outputDir string
	maxSizeMB float64
	debounce  time.Duration
	optimizer *image.Optimizer
	watcher   *fsnotify.Watcher
	events    chan Processed

	mu       sync.Mutex
	timers   map[string]*time.Timer
	stopped  bool
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New 建立 watcher，輸入與輸出目錄不可相同
func New(inputDir, outputDir string, optimizer *image.Optimizer, maxSizeMB float64) (*Watcher, error) {
	in, err := filepath.Abs(inputDir)
	if err != nil {
		return nil, common.ErrFilesystem.WithError(err)
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, common.ErrFilesystem.WithError(err)
	}
	if in == out {
		return nil, common.NewValidationError("output directory must differ from the watched directory")
	}
	if optimizer == nil {
		optimizer = image.NewOptimizer(image.DefaultOptions())
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		inputDir:  in,
		outputDir: out,
		maxSizeMB: maxSizeMB,
		debounce:  DefaultDebounce,
		optimizer: optimizer,
		watcher:   fsWatcher,
		events:    make(chan Processed, 100),
		timers:    make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}, nil
}

// SetDebounce 調整合併間隔，須在 Start 前呼叫
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Start 開始監看
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return common.ErrFilesystem.WithError(err)
	}
	if err := w.watcher.Add(w.inputDir); err != nil {
		return common.ErrFilesystem.WithError(fmt.Errorf("failed to watch folder %s: %w", w.inputDir, err))
	}

	common.LogInfo("Watching folder",
		zap.String("input_dir", w.inputDir),
		zap.String("output_dir", w.outputDir),
		zap.Float64("max_size_mb", w.maxSizeMB),
	)

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// processEvents 讀取 fsnotify 事件並做 debounce
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.optimizer.IsCandidate(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			common.LogError("Watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if timer, exists := w.timers[path]; exists {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		delete(w.timers, path)
		w.wg.Add(1)
		w.mu.Unlock()

		defer w.wg.Done()
		w.handle(path)
	})
}

// handle 最佳化後把結果複製到輸出目錄
func (w *Watcher) handle(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// 合併期間已被刪除或更名
		return
	}

	common.LogInfo("New image detected", zap.String("path", path))

	res := w.optimizer.Optimize(path, w.maxSizeMB)
	p := Processed{Source: path, Result: res}

	output, err := image.CopyToFolder(res.Path, w.outputDir)
	if err != nil {
		p.Err = err
	} else {
		p.Output = output
	}

	select {
	case w.events <- p:
	case <-w.done:
	}
}

// Events 回傳處理結果通道，Stop 後關閉
func (w *Watcher) Events() <-chan Processed {
	return w.events
}

// Stop 停止監看，等待處理中的檔案完成
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		for path, timer := range w.timers {
			timer.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()

		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
		close(w.events)

		common.LogInfo("Watcher stopped", zap.String("input_dir", w.inputDir))
	})
	return err
}
