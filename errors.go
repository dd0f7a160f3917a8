package kivi

import (
	"fmt"
)

var (
	ErrEmptyKey    = addPrefix("the key is empty")
	ErrBigRecord   = addPrefix("record is bigger than a data file")
	ErrKeyNotFound = addPrefix("key not found")

	ErrNoIOManager       = addPrefix("no io manager")
	ErrDirIsUsing        = addPrefix("directory is used by another process")
	ErrDataFileCorrupted = addPrefix("data file may be corrupted")
	ErrDataFileNotFound  = addPrefix("data file not found")

	ErrMergeIsProgress = addPrefix("merge is in progress")
	ErrDBClosed        = addPrefix("db is closed")

	// ErrTombstoneInKeydir means the keydir resolved to a delete
	// record, which replay and the write path should make impossible.
	ErrTombstoneInKeydir = addPrefix("keydir entry points at a tombstone")
)

func addPrefix(errStr string) error {
	return fmt.Errorf("kivi err: %s", errStr)
}
