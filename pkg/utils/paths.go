package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WithinDir resolves path (symlinks included) and returns it when it lies
// under root. Paths that escape root are rejected.
func WithinDir(root, path string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%s: no directory configured", path)
	}
	base, err := resolve(root)
	if err != nil {
		return "", err
	}
	target, err := resolve(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: outside %s", path, root)
	}
	return target, nil
}

func resolve(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if os.IsNotExist(err) {
		// a missing file still gets its parent directories resolved
		dir, err := resolve(filepath.Dir(abs))
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, filepath.Base(abs)), nil
	}
	return resolved, err
}
