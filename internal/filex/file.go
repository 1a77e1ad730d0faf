// Package filex contains small filesystem helpers shared by the server.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates dir (and parents) if missing and returns its absolute path.
// Relative paths are resolved against the working directory.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// CreateFile creates or truncates p, creating its parent directory first.
// existed reports whether a file was already present at p.
func CreateFile(p string) (f *os.File, existed bool, err error) {
	if err := os.MkdirAll(filepath.Dir(p), 0o770); err != nil {
		return nil, false, fmt.Errorf("mkdir %s: %w", filepath.Dir(p), err)
	}

	if _, statErr := os.Stat(p); statErr == nil {
		existed = true
	}

	f, err = os.Create(p)
	if err != nil {
		return nil, false, err
	}
	return f, existed, nil
}

// Within reports whether target resolves to a location inside root.
func Within(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
