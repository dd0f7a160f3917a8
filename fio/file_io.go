package fio

import "os"

// FileIO is the default IOManager backed by an os.File opened in
// append mode. ReadAt and Write on the same fd are safe to use
// concurrently, which is what allows lock-free reads of the active
// segment.
type FileIO struct {
	fd *os.File
}

func NewFileIO(file string) (*FileIO, error) {
	fd, err := os.OpenFile(file, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &FileIO{fd: fd}, nil
}

func (f *FileIO) Read(buf []byte, offset int64) (int, error) {
	return f.fd.ReadAt(buf, offset)
}

func (f *FileIO) Write(data []byte) (int, error) {
	return f.fd.Write(data)
}

func (f *FileIO) Sync() error {
	return f.fd.Sync()
}

func (f *FileIO) Size() (int64, error) {
	stat, err := f.fd.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func (f *FileIO) Truncate(size int64) error {
	return f.fd.Truncate(size)
}

func (f *FileIO) Close() error {
	return f.fd.Close()
}
