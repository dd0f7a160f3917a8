package model

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kivi/kivi/fio"
)

const (
	// DataFileSuffix is the extension of every data file (segment).
	DataFileSuffix = ".kv"
)

// DataFile is a single segment of the append-only log. The segment with
// the largest fid is active and receives appends; all others are sealed
// and read-only.
type DataFile struct {
	Fid         uint32
	WriteOffset int64 // only the active data file advances this
	IoManager   fio.IOManager
}

func OpenDataFile(fid uint32, ioManager fio.IOManager) *DataFile {
	return &DataFile{
		Fid:       fid,
		IoManager: ioManager,
	}
}

// GetDataFileName returns the path of the data file with the given fid.
func GetDataFileName(dir string, fid uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%09d%s", fid, DataFileSuffix))
}

// ParseFid extracts the fid from a data file name. The second return
// value is false if the name is not a data file name.
func ParseFid(name string) (uint32, bool) {
	if !strings.HasSuffix(name, DataFileSuffix) {
		return 0, false
	}
	fid, err := strconv.ParseUint(strings.TrimSuffix(name, DataFileSuffix), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(fid), true
}

func (df *DataFile) Sync() error {
	return df.IoManager.Sync()
}

func (df *DataFile) Close() error {
	return df.IoManager.Close()
}

func (df *DataFile) Size() (int64, error) {
	return df.IoManager.Size()
}

// Write appends binary data and advances the write offset.
func (df *DataFile) Write(data []byte) error {
	size, err := df.IoManager.Write(data)
	if err != nil {
		return err
	}
	df.WriteOffset += int64(size)
	return nil
}

// ReadRecordHeader reads up to MaxHeaderSize bytes at offset. Fewer
// bytes are returned near the end of the file.
func (df *DataFile) ReadRecordHeader(offset int64) ([]byte, error) {
	fileSize, err := df.IoManager.Size()
	if err != nil {
		return nil, err
	}

	var headerBytes int64 = MaxHeaderSize
	if headerBytes+offset > fileSize {
		headerBytes = fileSize - offset
	}
	if headerBytes < 0 {
		headerBytes = 0
	}

	return df.readNBytes(offset, headerBytes)
}

func (df *DataFile) ReadRecord(offset, size int64) ([]byte, error) {
	return df.readNBytes(offset, size)
}

func (df *DataFile) readNBytes(offset, n int64) ([]byte, error) {
	buf := make([]byte, n)
	_, err := df.IoManager.Read(buf, offset)
	if err != nil {
		return nil, err
	}
	return buf, nil
}
