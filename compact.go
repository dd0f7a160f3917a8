package kivi

import (
	"errors"
	"log"
	"os"
	"sync/atomic"

	"github.com/kivi/kivi/model"
)

// Merge compacts the store in the background: live records from every
// sealed data file are copied into a fresh compaction file, the keydir
// is repointed at the copies, and the old files are removed. The
// returned channel delivers the result of the pass. At most one merge
// runs at a time.
func (db *DB) Merge() chan error {
	done := make(chan error, 1)
	go func() {
		done <- db.merge()
	}()
	return done
}

// maybeMerge schedules a background merge once the stale-byte tally
// crosses the configured threshold. The check is O(1); the caller must
// hold db.mu.
func (db *DB) maybeMerge() {
	if db.staleBytes < db.options.compactionThreshold {
		return
	}
	if atomic.LoadInt32(&db.merging) == 1 {
		return
	}
	go func() {
		if err := db.merge(); err != nil && !errors.Is(err, ErrMergeIsProgress) {
			log.Printf("kivi: background merge failed: %v", err)
		}
	}()
}

func (db *DB) merge() error {
	if !atomic.CompareAndSwapInt32(&db.merging, 0, 1) {
		return ErrMergeIsProgress
	}
	db.mergeWg.Add(1)
	defer func() {
		atomic.StoreInt32(&db.merging, 0)
		db.mergeWg.Done()
	}()

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrDBClosed
	}
	if db.activeFile.WriteOffset == 0 && len(db.olderFiles) == 0 {
		db.mu.Unlock()
		return nil
	}

	if err := db.activeFile.Sync(); err != nil {
		db.mu.Unlock()
		return err
	}

	// Seal the active file and skip one generation for the compaction
	// target, so replay order stays correct if the process dies before
	// the old files are removed: sealed < target < new active.
	sealedFid := db.activeFile.Fid
	mergeFid := sealedFid + 1
	newActiveFid := sealedFid + 2

	target, err := db.openDataFile(mergeFid)
	if err != nil {
		db.mu.Unlock()
		return err
	}
	newActive, err := db.openDataFile(newActiveFid)
	if err != nil {
		_ = target.Close()
		db.mu.Unlock()
		return err
	}

	// The target joins the file set before any keydir entry points at
	// it; foreground writes resume on the new active file as soon as
	// the lock drops.
	db.fileMu.Lock()
	db.olderFiles[sealedFid] = db.activeFile
	db.olderFiles[mergeFid] = target
	db.activeFile = newActive
	db.fileMu.Unlock()

	mergeSet := make(map[uint32]*model.DataFile, len(db.olderFiles))
	for fid, df := range db.olderFiles {
		if fid <= sealedFid {
			mergeSet[fid] = df
		}
	}

	// Everything stale right now lives in the files being merged away.
	// Bytes going stale inside them while the pass runs are tallied by
	// the writers into mergeStale; both settle when the files go.
	db.mergeFids = make(map[uint32]struct{}, len(mergeSet))
	for fid := range mergeSet {
		db.mergeFids[fid] = struct{}{}
	}
	db.mergeStale = 0
	reclaim := db.staleBytes
	db.mu.Unlock()

	defer func() {
		db.mu.Lock()
		db.mergeFids = nil
		db.mergeStale = 0
		db.mu.Unlock()
	}()

	var copied, copiedBytes int64
	it := db.options.keydir.Iterator()
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Key()

		// re-check: a Put since the iterator snapshot may have moved
		// the key out of the files being merged
		pos := db.options.keydir.Get(key)
		if pos == nil {
			continue
		}
		src, ok := mergeSet[pos.Fid]
		if !ok {
			continue
		}

		data, err := src.ReadRecord(pos.Offset, int64(pos.Size))
		if err != nil {
			return err
		}
		offset := target.WriteOffset
		if err = target.Write(data); err != nil {
			return err
		}

		// swap the keydir entry only if the record is still current;
		// otherwise the copy just became dead bytes in the target
		db.mu.Lock()
		if db.closed {
			db.mu.Unlock()
			return ErrDBClosed
		}
		cur := db.options.keydir.Get(key)
		if cur == nil || cur.Fid != pos.Fid || cur.Offset != pos.Offset {
			db.staleBytes += int64(pos.Size)
			db.mu.Unlock()
			continue
		}
		db.options.keydir.Put(key, &model.RecordPos{
			Fid:    mergeFid,
			Offset: offset,
			Size:   pos.Size,
		})
		db.mu.Unlock()

		copied++
		copiedBytes += int64(pos.Size)
	}

	if err = target.Sync(); err != nil {
		return err
	}

	// No keydir entry references the merged files anymore; drop them
	// from the file set first, then delete the storage.
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrDBClosed
	}
	db.fileMu.Lock()
	for fid := range mergeSet {
		delete(db.olderFiles, fid)
	}
	db.fileMu.Unlock()
	db.staleBytes -= reclaim + db.mergeStale
	if db.staleBytes < 0 {
		db.staleBytes = 0
	}
	db.mu.Unlock()

	for fid, df := range mergeSet {
		if err := df.Close(); err != nil {
			return err
		}
		if err := os.Remove(model.GetDataFileName(db.options.dirPath, fid)); err != nil {
			return err
		}
	}

	atomic.AddInt64(&db.mergeCount, 1)
	log.Printf("kivi: merge copied %d live records (%d bytes) into data file %d, removed %d data files",
		copied, copiedBytes, mergeFid, len(mergeSet))
	return nil
}
