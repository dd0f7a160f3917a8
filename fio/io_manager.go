package fio

// IOManager abstracts the file operations the engine needs. A custom
// implementation can be injected through the db options.
type IOManager interface {
	// Read fills buf starting at offset, returning the bytes read.
	Read(buf []byte, offset int64) (int, error)
	// Write appends data to the end of the file.
	Write(data []byte) (int, error)
	// Sync flushes buffered writes to durable storage.
	Sync() error
	// Size reports the current file size.
	Size() (int64, error)
	// Truncate discards everything past size. Used to drop a torn
	// record tail during startup replay.
	Truncate(size int64) error
	Close() error
}
