package utils

import (
	"path/filepath"
	"strings"
)

// pathGuard answers containment queries against a fixed set of roots,
// with symlinks resolved once up front.
type pathGuard struct {
	roots []string
}

func getPathGuard(roots []string) *pathGuard {
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		if abs, ok := resolveAbs(root); ok {
			resolved = append(resolved, abs)
		}
	}
	return &pathGuard{roots: resolved}
}

// Contains reports whether path resolves to a location inside (or equal
// to) one of the guard's roots.
func (g *pathGuard) Contains(path string) bool {
	if g == nil || len(g.roots) == 0 {
		return false
	}
	abs, ok := resolveAbs(path)
	if !ok {
		return false
	}
	for _, root := range g.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// IsPathWithin reports whether path resolves inside any of the roots.
func IsPathWithin(path string, roots []string) bool {
	return getPathGuard(roots).Contains(path)
}

// resolveAbs follows symlinks when the path exists and falls back to the
// literal path when it does not, then makes it absolute.
func resolveAbs(path string) (string, bool) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", false
	}
	return abs, true
}
