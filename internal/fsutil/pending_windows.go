//go:build windows

package fsutil

import (
	"os"
	"path/filepath"
)

// renameio does not build on Windows; MoveFileEx behind os.Rename replaces
// the destination in one step there.
type tempPending struct {
	*os.File
	path string
	perm os.FileMode
	done bool
}

func newPending(path string, perm os.FileMode) (Pending, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, err
	}
	return &tempPending{File: f, path: path, perm: perm}, nil
}

func (p *tempPending) Commit() error {
	if err := p.Sync(); err != nil {
		return err
	}
	if err := p.Close(); err != nil {
		return err
	}
	if err := os.Chmod(p.Name(), p.perm); err != nil {
		return err
	}
	if err := os.Rename(p.Name(), p.path); err != nil {
		return err
	}
	p.done = true
	return nil
}

func (p *tempPending) Discard() {
	if p.done {
		return
	}
	_ = p.Close()
	_ = os.Remove(p.Name())
	p.done = true
}
