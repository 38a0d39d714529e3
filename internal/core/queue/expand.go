package queue

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"image-optimizer/internal/core/image"
	"image-optimizer/internal/pkg/common"
)

var defaultOptimizer = image.NewOptimizer(image.DefaultOptions())

// ExpandPaths 展開檔案或目錄為待處理的圖片清單
func ExpandPaths(path string, recursive bool) ([]string, error) {
	return expandPaths(path, recursive, defaultOptimizer)
}

// ExpandPaths 依最佳化器的後綴展開路徑
func (m *Manager) ExpandPaths(path string, recursive bool) ([]string, error) {
	return expandPaths(path, recursive, m.optimizer)
}

func expandPaths(path string, recursive bool, optimizer *image.Optimizer) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, common.ErrFilesystem.WithError(err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var paths []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && (!recursive || isHidden(d.Name())) {
				return filepath.SkipDir
			}
			return nil
		}
		if optimizer.IsCandidate(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, common.ErrFilesystem.WithError(err)
	}

	sort.Strings(paths)
	return paths, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
