package keydir

import "github.com/kivi/kivi/model"

// Keydir is the in-memory index mapping each key to the position of its
// latest live record. At any instant it holds at most one entry per
// key; a Remove deletes the entry (the tombstone lives only on disk).
//
// Put and Delete return the previous position if there was one, so the
// engine can tally stale bytes without a second lookup.
type Keydir interface {
	Put(key []byte, pos *model.RecordPos) *model.RecordPos
	Get(key []byte) *model.RecordPos
	Delete(key []byte) *model.RecordPos
	Size() int
	Iterator() Iterator
	Close() error
}

// Iterator walks the keydir in key order over a snapshot taken at
// creation time. Positions read from it may be stale; callers that care
// must re-resolve through Get.
type Iterator interface {
	Rewind()
	Next()
	Valid() bool
	Key() []byte
	Value() *model.RecordPos
	Close()
}
