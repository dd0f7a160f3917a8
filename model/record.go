package model

import "encoding/binary"

// MaxHeaderSize is the upper bound of a marshaled record header:
// crc(4) + isDelete(1) + keySize(varint) + valueSize(varint)
const MaxHeaderSize = 5 + binary.MaxVarintLen32*2

// Record is the unit appended to a data file. A record is never edited
// in place, only superseded by a later record for the same key.
type Record struct {
	Key      []byte
	Value    []byte
	IsDelete bool
}

// RecordHeader precedes every record on disk. Crc covers the header
// bytes after the crc field plus the key and value bytes.
type RecordHeader struct {
	Crc       uint32
	IsDelete  bool
	KeySize   int64
	ValueSize int64
}

// RecordPos locates a record on disk. Size is the full on-disk size of
// the record, header included.
type RecordPos struct {
	Fid    uint32
	Offset int64
	Size   uint32
}
