// Package security guards file paths supplied by HTTP clients.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrOutsideDir    = errors.New("path escapes the allowed directory")
	ErrNotFound      = errors.New("file not found")
	ErrNotRegular    = errors.New("not a regular file")
	ErrBadExtension  = errors.New("unsupported file extension")
	ErrNoAllowedDirs = errors.New("no allowed directory configured")
)

// CaptureExtensions are the file extensions ResolveCapture accepts.
var CaptureExtensions = []string{".pcap", ".pcapng"}

// ValidatePathWithinDirectory reports whether path, once symlinks are
// resolved, stays inside dir. A path that does not exist yet is checked
// against its nearest existing parent.
func ValidatePathWithinDirectory(path, dir string) error {
	if dir == "" {
		return ErrNoAllowedDirs
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve directory symlinks: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, canonicalize(absPath))
	if err != nil || escapes(rel) {
		return fmt.Errorf("%w: %s is not within %s", ErrOutsideDir, path, dir)
	}
	return nil
}

// canonicalize resolves symlinks in p, or in its longest existing prefix.
func canonicalize(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	for child, parent := p, filepath.Dir(p); parent != child; child, parent = parent, filepath.Dir(parent) {
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, p)
			return filepath.Join(resolved, rest)
		}
	}
	return p
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel)
}

// ResolveCapture joins name onto dir and returns the canonical path of an
// existing capture file inside dir.
func ResolveCapture(dir, name string) (string, error) {
	if dir == "" {
		return "", ErrNoAllowedDirs
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrNotFound)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve directory: %w", err)
	}
	candidate := filepath.Join(absDir, name)
	if err := ValidatePathWithinDirectory(candidate, absDir); err != nil {
		return "", err
	}

	canonical, err := filepath.EvalSymlinks(candidate)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotRegular, name)
	}
	ext := strings.ToLower(filepath.Ext(canonical))
	for _, ok := range CaptureExtensions {
		if ext == ok {
			return canonical, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrBadExtension, ext)
}
