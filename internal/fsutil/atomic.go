// Package fsutil holds small filesystem helpers shared by the stores.
package fsutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Pending is a file being written that replaces its destination only on
// Commit. Discard after a successful Commit is a no-op.
type Pending interface {
	io.Writer
	Commit() error
	Discard()
}

// Create starts a pending replacement of path, creating its parent folders.
func Create(path string, perm os.FileMode) (Pending, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dirs for %s: %w", path, err)
	}
	p, err := newPending(path, perm)
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", path, err)
	}
	return p, nil
}

// WriteFile writes data to path so that readers only ever see the old or the
// new content.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return WriteFrom(path, bytes.NewReader(data), perm)
}

// WriteFrom streams r into path atomically. The old content survives any
// failure.
func WriteFrom(path string, r io.Reader, perm os.FileMode) error {
	p, err := Create(path, perm)
	if err != nil {
		return err
	}
	defer p.Discard()

	if _, err := io.Copy(p, r); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := p.Commit(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// CopyFile copies src to dst atomically.
func CopyFile(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	return WriteFrom(dst, f, info.Mode().Perm())
}
