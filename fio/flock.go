package fio

import (
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLocker guards a storage directory against concurrent use by
// multiple processes.
type FileLocker interface {
	TryLock() (bool, error)
	Unlock() error
}

var _ FileLocker = (*flock.Flock)(nil)

const flockName = "flock"

func NewFlock(dirPath string) *flock.Flock {
	return flock.New(filepath.Join(dirPath, flockName))
}
