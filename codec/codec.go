package codec

import "github.com/kivi/kivi/model"

// Codec serializes records for the on-disk log. A custom implementation
// can be injected through the db options as long as records stay
// independently parseable frames.
type Codec interface {
	// MarshalRecordHeader returns the header bytes and their size.
	MarshalRecordHeader(*model.RecordHeader) ([]byte, int64, error)

	// UnmarshalRecordHeader decodes a header and returns its size.
	UnmarshalRecordHeader([]byte, *model.RecordHeader) (int64, error)

	// MarshalRecord returns the payload bytes (key then value) and
	// their size.
	MarshalRecord(*model.Record) ([]byte, int64, error)

	// UnmarshalRecord decodes payload bytes using the sizes in the
	// already-decoded header.
	UnmarshalRecord([]byte, *model.RecordHeader, *model.Record) error
}
