package kivi

import (
	"errors"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/kivi/kivi/fio"
	"github.com/kivi/kivi/model"
	"github.com/kivi/kivi/utils"
)

// DB is a log-structured key-value store. All writes append a record to
// the active data file; an in-memory keydir maps each key to the
// position of its latest record. Superseded records pile up as stale
// bytes until a background merge copies the live ones into a fresh data
// file and removes the old ones.
type DB struct {
	// mu serializes mutations: the append to the active file and the
	// matching keydir update happen under it.
	mu sync.Mutex

	// fileMu guards the file set (activeFile and olderFiles). Writers
	// take it only while swapping files, so readers resolving a fid
	// never wait behind append I/O.
	fileMu sync.RWMutex

	activeFile *model.DataFile            // records append to the active data file
	olderFiles map[uint32]*model.DataFile // sealed files, read only

	// staleBytes counts bytes superseded since the last merge.
	staleBytes int64

	// mergeFids and mergeStale are set only while a merge pass runs:
	// bytes going stale inside the files being merged away vanish with
	// those files, so the pass settles them out of staleBytes at the
	// end.
	mergeFids  map[uint32]struct{}
	mergeStale int64

	merging    int32 // atomic; at most one merge at a time
	mergeCount int64 // atomic; completed merge passes
	mergeWg    sync.WaitGroup

	fileLock *flock.Flock
	closed   bool

	options *options
}

// Open opens the store in dirPath, creating the directory if needed.
// The keydir is rebuilt by replaying every data file oldest to newest.
func Open(dirPath string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	o.dirPath = dirPath
	for _, opt := range opts {
		opt(o)
	}

	if err := os.MkdirAll(dirPath, os.ModePerm); err != nil {
		return nil, err
	}

	fileLock := fio.NewFlock(dirPath)
	ok, err := fileLock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDirIsUsing
	}

	db := &DB{
		olderFiles: make(map[uint32]*model.DataFile),
		fileLock:   fileLock,
		options:    o,
	}

	if err = db.loadDataFiles(); err != nil {
		db.closeDataFiles()
		_ = fileLock.Unlock()
		return nil, err
	}
	if err = db.loadKeydir(); err != nil {
		db.closeDataFiles()
		_ = fileLock.Unlock()
		return nil, err
	}

	return db, nil
}

func (db *DB) closeDataFiles() {
	if db.activeFile != nil {
		_ = db.activeFile.Close()
	}
	for _, df := range db.olderFiles {
		_ = df.Close()
	}
}

// Get returns the value stored for key, or ErrKeyNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	pos := db.options.keydir.Get(key)
	if pos == nil {
		return nil, ErrKeyNotFound
	}

	value, err := db.readValueAt(pos)
	if err == nil {
		return value, nil
	}

	// a merge may have retired the file between the lookup and the
	// read; re-resolve through the keydir once
	if cur := db.options.keydir.Get(key); cur != nil && *cur != *pos {
		return db.readValueAt(cur)
	}
	return nil, err
}

// Put stores value under key, superseding any previous value.
func (db *DB) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDBClosed
	}

	record := &model.Record{
		Key:   key,
		Value: value,
	}
	pos, err := db.appendRecord(record)
	if err != nil {
		return err
	}

	if old := db.options.keydir.Put(key, pos); old != nil {
		db.markStale(old)
	}

	db.maybeMerge()
	return nil
}

// Delete removes key. The deletion is made durable by appending a
// tombstone record; the keydir entry is dropped so later Gets miss.
func (db *DB) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDBClosed
	}

	if db.options.keydir.Get(key) == nil {
		return ErrKeyNotFound
	}

	record := &model.Record{
		Key:      key,
		IsDelete: true,
	}
	pos, err := db.appendRecord(record)
	if err != nil {
		return err
	}

	if old := db.options.keydir.Delete(key); old != nil {
		db.markStale(old)
	}
	// the tombstone is stale the moment it lands
	db.staleBytes += int64(pos.Size)

	db.maybeMerge()
	return nil
}

// ListKeys returns every live key in key order.
func (db *DB) ListKeys() [][]byte {
	it := db.options.keydir.Iterator()
	defer it.Close()

	keys := make([][]byte, 0, db.options.keydir.Size())
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Key())
	}
	return keys
}

// Fold calls fn for every live key/value pair until fn returns false.
func (db *DB) Fold(fn func(key, value []byte) bool) error {
	it := db.options.keydir.Iterator()
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		value, err := db.Get(it.Key())
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			return err
		}
		if !fn(it.Key(), value) {
			break
		}
	}
	return nil
}

// Stats reports point-in-time store statistics.
type Stats struct {
	KeyCount     int   `json:"key_count"`
	SegmentCount int   `json:"segment_count"`
	DiskSize     int64 `json:"disk_size"`
	StaleBytes   int64 `json:"stale_bytes"`
	MergeCount   int64 `json:"merge_count"`
}

func (db *DB) Stats() Stats {
	db.mu.Lock()
	defer db.mu.Unlock()

	stats := Stats{
		KeyCount:   db.options.keydir.Size(),
		StaleBytes: db.staleBytes,
		MergeCount: atomic.LoadInt64(&db.mergeCount),
	}
	if db.activeFile != nil {
		stats.SegmentCount++
		if size, err := db.activeFile.Size(); err == nil {
			stats.DiskSize += size
		}
	}
	for _, df := range db.olderFiles {
		stats.SegmentCount++
		if size, err := df.Size(); err == nil {
			stats.DiskSize += size
		}
	}
	return stats
}

// Sync flushes the active data file to durable storage.
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDBClosed
	}
	if db.activeFile == nil {
		return nil
	}
	return db.activeFile.Sync()
}

// Close syncs and closes every data file and releases the directory
// lock. An in-flight merge is allowed to finish first.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.mergeWg.Wait()

	db.mu.Lock()
	defer db.mu.Unlock()

	var firstErr error
	if db.activeFile != nil {
		if err := db.activeFile.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := db.activeFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, df := range db.olderFiles {
		if err := df.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = db.options.keydir.Close()
	if err := db.fileLock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// markStale tallies a superseded record. Bytes inside files a running
// merge pass is about to delete are tracked separately so the pass can
// settle them. The caller must hold db.mu.
func (db *DB) markStale(old *model.RecordPos) {
	db.staleBytes += int64(old.Size)
	if _, ok := db.mergeFids[old.Fid]; ok {
		db.mergeStale += int64(old.Size)
	}
}

func (db *DB) readValueAt(pos *model.RecordPos) ([]byte, error) {
	df := db.getDataFile(pos.Fid)
	if df == nil {
		return nil, ErrDataFileNotFound
	}

	record, _, err := db.getRecordFromDataFile(df, pos.Offset)
	if err != nil {
		return nil, err
	}
	if record.IsDelete {
		return nil, ErrTombstoneInKeydir
	}
	return record.Value, nil
}

func (db *DB) getDataFile(fid uint32) *model.DataFile {
	db.fileMu.RLock()
	defer db.fileMu.RUnlock()
	if db.activeFile != nil && db.activeFile.Fid == fid {
		return db.activeFile
	}
	return db.olderFiles[fid]
}

// appendRecord writes a record to the active data file, rotating it
// first if the record would not fit. The caller must hold db.mu.
func (db *DB) appendRecord(record *model.Record) (*model.RecordPos, error) {
	data, size, err := db.marshalRecord(record)
	if err != nil {
		return nil, err
	}
	if size > db.options.dataFileSize {
		return nil, ErrBigRecord
	}

	if db.activeFile.WriteOffset+size > db.options.dataFileSize {
		// seal the current active file, open the next generation
		if err = db.activeFile.Sync(); err != nil {
			return nil, err
		}
		if err = db.rotateActiveFile(db.activeFile.Fid + 1); err != nil {
			return nil, err
		}
	}

	offset := db.activeFile.WriteOffset
	if err = db.activeFile.Write(data); err != nil {
		return nil, err
	}
	if db.options.syncEveryWrite {
		if err = db.activeFile.Sync(); err != nil {
			return nil, err
		}
	}

	return &model.RecordPos{
		Fid:    db.activeFile.Fid,
		Offset: offset,
		Size:   uint32(size),
	}, nil
}

// marshalRecord produces the full on-disk bytes of a record. The header
// is marshaled twice: once to obtain the bytes the crc covers, once
// with the crc filled in.
func (db *DB) marshalRecord(record *model.Record) ([]byte, int64, error) {
	payload, payloadSize, err := db.options.codec.MarshalRecord(record)
	if err != nil {
		return nil, 0, err
	}

	header := &model.RecordHeader{
		IsDelete:  record.IsDelete,
		KeySize:   int64(len(record.Key)),
		ValueSize: payloadSize - int64(len(record.Key)),
	}
	headerData, headerSize, err := db.options.codec.MarshalRecordHeader(header)
	if err != nil {
		return nil, 0, err
	}
	header.Crc = utils.GenerateCrc(headerData[4:], payload)
	headerData, headerSize, err = db.options.codec.MarshalRecordHeader(header)
	if err != nil {
		return nil, 0, err
	}

	data := make([]byte, 0, headerSize+payloadSize)
	data = append(data, headerData...)
	data = append(data, payload...)
	return data, headerSize + payloadSize, nil
}

// getRecordFromDataFile reads the record at offset and returns it with
// its full on-disk size. io.EOF means a clean end of file,
// io.ErrUnexpectedEOF a record cut off by the end of the file. A crc
// failure returns ErrDataFileCorrupted together with the record size,
// so replay can tell whether more records follow.
func (db *DB) getRecordFromDataFile(df *model.DataFile, offset int64) (*model.Record, int64, error) {
	headerData, err := df.ReadRecordHeader(offset)
	if err != nil {
		if err == io.EOF {
			return nil, 0, io.ErrUnexpectedEOF
		}
		return nil, 0, err
	}
	if len(headerData) == 0 {
		return nil, 0, io.EOF
	}

	header := &model.RecordHeader{}
	headerSize, err := db.options.codec.UnmarshalRecordHeader(headerData, header)
	if err != nil {
		return nil, 0, err
	}
	if header.KeySize <= 0 || header.ValueSize < 0 {
		return nil, 0, ErrDataFileCorrupted
	}

	payloadSize := header.KeySize + header.ValueSize
	payload, err := df.ReadRecord(offset+headerSize, payloadSize)
	if err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, io.ErrUnexpectedEOF
		}
		return nil, 0, err
	}

	if !utils.CheckCrc(header.Crc, headerData[4:headerSize], payload) {
		return nil, headerSize + payloadSize, ErrDataFileCorrupted
	}

	record := &model.Record{}
	if err = db.options.codec.UnmarshalRecord(payload, header, record); err != nil {
		return nil, 0, err
	}
	return record, headerSize + payloadSize, nil
}

func (db *DB) openDataFile(fid uint32) (*model.DataFile, error) {
	ioManager, err := db.options.ioManagerCreator(model.GetDataFileName(db.options.dirPath, fid))
	if err != nil {
		return nil, err
	}
	return model.OpenDataFile(fid, ioManager), nil
}

func (db *DB) rotateActiveFile(fid uint32) error {
	df, err := db.openDataFile(fid)
	if err != nil {
		return err
	}
	db.fileMu.Lock()
	db.olderFiles[db.activeFile.Fid] = db.activeFile
	db.activeFile = df
	db.fileMu.Unlock()
	return nil
}

// loadDataFiles discovers existing data files and opens them, the
// newest as active and the rest as sealed.
func (db *DB) loadDataFiles() error {
	entries, err := os.ReadDir(db.options.dirPath)
	if err != nil {
		return err
	}

	fids := make([]uint32, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if fid, ok := model.ParseFid(entry.Name()); ok {
			fids = append(fids, fid)
		}
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })

	if len(fids) == 0 {
		df, err := db.openDataFile(1)
		if err != nil {
			return err
		}
		db.activeFile = df
		return nil
	}

	for i, fid := range fids {
		df, err := db.openDataFile(fid)
		if err != nil {
			return err
		}
		if i == len(fids)-1 {
			db.activeFile = df
		} else {
			db.olderFiles[fid] = df
		}
	}
	return nil
}

// loadKeydir rebuilds the keydir by replaying every data file oldest to
// newest. A torn record at the tail of the newest file is truncated
// away; a corrupt record with records after it, or in a sealed file,
// aborts the open so no acknowledged write is silently dropped.
func (db *DB) loadKeydir() error {
	files := make([]*model.DataFile, 0, len(db.olderFiles)+1)
	for _, df := range db.olderFiles {
		files = append(files, df)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Fid < files[j].Fid })
	if db.activeFile != nil {
		files = append(files, db.activeFile)
	}

	for i, df := range files {
		newest := i == len(files)-1
		var offset int64
		for {
			record, size, err := db.getRecordFromDataFile(df, offset)
			if err == io.EOF {
				break
			}
			if err != nil {
				if newest && tornTail(df, err, offset, size) {
					// a crash mid-append left a torn tail; drop it
					if terr := df.IoManager.Truncate(offset); terr != nil {
						return terr
					}
					log.Printf("kivi: truncated torn tail of data file %d at offset %d", df.Fid, offset)
					break
				}
				return err
			}

			pos := &model.RecordPos{Fid: df.Fid, Offset: offset, Size: uint32(size)}
			if record.IsDelete {
				if old := db.options.keydir.Delete(record.Key); old != nil {
					db.staleBytes += int64(old.Size)
				}
				db.staleBytes += int64(size)
			} else {
				if old := db.options.keydir.Put(record.Key, pos); old != nil {
					db.staleBytes += int64(old.Size)
				}
			}
			offset += size
		}

		if newest {
			df.WriteOffset = offset
		}
	}
	return nil
}

// tornTail reports whether a replay failure at offset is a
// half-persisted append rather than corruption. A record cut off by the
// end of the file always is. A crc failure only counts when the record
// is the last one in the file: a torn append can land full-length with
// garbage bytes, but it can never have valid records after it.
func tornTail(df *model.DataFile, err error, offset, size int64) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if !errors.Is(err, ErrDataFileCorrupted) || size == 0 {
		return false
	}
	fileSize, serr := df.Size()
	if serr != nil {
		return false
	}
	return offset+size >= fileSize
}
