// Package scanner holds the scanners secuscan can run and the registry that
// picks them for a project category.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/yourorg/secuscan/internal/detect"
	"github.com/yourorg/secuscan/internal/model"
)

// Scanner inspects a target directory and returns what it found.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, target string) ([]model.Finding, error)
}

// Delegating is a scanner that needs an auxiliary service to be ready before Scan is called.
type Delegating interface {
	Scanner
	Service() string
}

// Error wraps a failure of one scanner.
type Error struct {
	Scanner string
	Err     error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Scanner, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// walkFiles calls fn for every regular file below root, skipping the same
// noise directories the classifier skips. Unreadable directories are ignored.
func walkFiles(ctx context.Context, root string, fn func(path string, d fs.DirEntry) error) error {
	return walkTree(ctx, root, detect.SkipDir, fn)
}

// walkTree walks the tree root points to, pruning directories for which skip
// is true. A symlinked root is followed, and fn still sees paths under root.
func walkTree(ctx context.Context, root string, skip func(name string) bool, fn func(path string, d fs.DirEntry) error) error {
	walkRoot := detect.Resolve(root)
	return filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == walkRoot {
				return err
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != walkRoot && skip(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if walkRoot != root {
			rel, err := filepath.Rel(walkRoot, p)
			if err != nil {
				return nil
			}
			p = filepath.Join(root, rel)
		}
		return fn(p, d)
	})
}

// relPath reports p relative to root with forward slashes; a single-file
// target reports its base name.
func relPath(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return filepath.Base(p)
	}
	return filepath.ToSlash(rel)
}
