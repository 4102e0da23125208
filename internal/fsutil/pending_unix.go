//go:build !windows

package fsutil

import (
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

type renamePending struct {
	*renameio.PendingFile
}

func newPending(path string, perm os.FileMode) (Pending, error) {
	f, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithStaticPermissions(perm),
	)
	if err != nil {
		return nil, err
	}
	return renamePending{f}, nil
}

func (p renamePending) Commit() error {
	return p.CloseAtomicallyReplace()
}

func (p renamePending) Discard() {
	_ = p.Cleanup()
}
