// Package detect classifies a source tree as an Android or Web project.
package detect

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type Category string

const (
	Android Category = "Android"
	Web     Category = "Web"
	Unknown Category = "Unknown"
)

// Result is the classification of one tree. Extensions maps a lowercase
// extension (with the leading dot) to the number of files carrying it.
type Result struct {
	Category   Category
	Extensions map[string]int
}

const ManifestName = "AndroidManifest.xml"

var (
	deniedDirs = map[string]struct{}{
		".git": {}, "node_modules": {}, "venv": {}, "env": {}, "__pycache__": {},
		"build": {}, "dist": {}, ".gradle": {}, ".idea": {},
	}
	webMarkers = map[string]struct{}{
		"package.json": {}, "index.html": {}, "yarn.lock": {},
	}
	webExtensions = []string{
		".html", ".js", ".css", ".php", ".ts", ".jsx", ".tsx", ".vue", ".py", ".rb", ".go",
	}
	androidExtensions = []string{".java", ".kt", ".xml", ".gradle"}
)

// SkipDir reports whether a directory with this base name is never scanned.
func SkipDir(name string) bool {
	_, ok := deniedDirs[name]
	return ok
}

// Classify walks path once and applies, in order: an Android manifest anywhere
// means Android; a web marker file means Web; otherwise the larger of the web and
// Android extension totals wins and a tie is Unknown. A missing path is Unknown
// with no extensions. Unreadable entries are skipped.
func Classify(path string) Result {
	res := Result{Category: Unknown, Extensions: map[string]int{}}
	if _, err := os.Stat(path); err != nil {
		return res
	}

	root := Resolve(path)
	var hasManifest, hasMarker bool
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d == nil {
			return nil
		}
		if d.IsDir() {
			if p != root && SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if name == ManifestName {
			hasManifest = true
		}
		if _, ok := webMarkers[name]; ok {
			hasMarker = true
		}
		if ext := extension(name); ext != "" {
			res.Extensions[ext]++
		}
		return nil
	})

	switch {
	case hasManifest:
		res.Category = Android
	case hasMarker:
		res.Category = Web
	default:
		web, android := sum(res.Extensions, webExtensions), sum(res.Extensions, androidExtensions)
		if web > android {
			res.Category = Web
		} else if android > web {
			res.Category = Android
		}
	}
	return res
}

// Resolve follows symlinks in path so a linked project root is walked as the
// tree it points to. A path that cannot be resolved is returned unchanged.
func Resolve(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}

// extension returns the lowercase extension of a file name. Dotfiles such as
// ".gitignore" have none.
func extension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == "." || strings.TrimLeft(name, ".") == strings.TrimPrefix(ext, ".") {
		return ""
	}
	return strings.ToLower(ext)
}

func sum(counts map[string]int, exts []string) int {
	n := 0
	for _, e := range exts {
		n += counts[e]
	}
	return n
}
