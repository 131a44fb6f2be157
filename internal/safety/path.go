package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanReportFilename validates a report filename received from the API
// listing. Filenames are stored directly under a checkpoint directory, so
// anything that is not a single plain path element is rejected: separators,
// parent traversal, and a leading dot (dot-prefixed names are reserved for
// in-flight temporary files).
func CleanReportFilename(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("report filename is empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("report filename contains a path separator: %q", name)
	}
	clean := filepath.Clean(name)
	if clean == "." || clean == ".." {
		return "", fmt.Errorf("invalid report filename: %q", name)
	}
	if strings.HasPrefix(clean, ".") {
		return "", fmt.Errorf("dot-prefixed report filename is reserved: %q", name)
	}
	return clean, nil
}

// EnsureUnderRoot verifies candidate resolves under root and returns
// an absolute normalized path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}
