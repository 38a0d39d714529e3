package images

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"image-optimizer/internal/pkg/common"
)

// Roots 允許 API 存取的目錄清單
type Roots struct {
	dirs []string
}

// NewRoots 解析目錄的絕對路徑與符號連結，目錄必須存在
func NewRoots(dirs []string) (*Roots, error) {
	r := &Roots{}
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("invalid root dir %q: %w", dir, err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("invalid root dir %q: %w", dir, err)
		}
		r.dirs = append(r.dirs, resolved)
	}
	return r, nil
}

// Dirs 解析後的目錄
func (r *Roots) Dirs() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.dirs...)
}

// Check 路徑不含 ".."，且解析符號連結後位於允許的目錄內
func (r *Roots) Check(path string) error {
	for _, part := range strings.FieldsFunc(filepath.ToSlash(path), func(c rune) bool { return c == '/' }) {
		if part == ".." {
			return common.ErrForbidden.WithError(fmt.Errorf("path %q contains a parent reference", path))
		}
	}

	resolved, err := resolve(path)
	if err != nil {
		return common.ErrForbidden.WithError(err)
	}
	if r == nil {
		return common.ErrForbidden.WithError(fmt.Errorf("no allowed directories configured"))
	}
	for _, dir := range r.dirs {
		if within(dir, resolved) {
			return nil
		}
	}
	return common.ErrForbidden.WithError(fmt.Errorf("path %q is outside the allowed directories", path))
}

// resolve 解析符號連結，尚未存在的尾段沿用最近存在的上層目錄
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	var rest []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
