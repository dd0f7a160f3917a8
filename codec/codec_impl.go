package codec

import (
	"encoding/binary"
	"io"

	"github.com/kivi/kivi/model"
)

type CodecImpl struct{}

func NewCodecImpl() *CodecImpl {
	return &CodecImpl{}
}

var _ Codec = (*CodecImpl)(nil)

/*
default codec:
	- header: crc(4) + isDelete(1) + keySize(varint) + valueSize(varint)
	- payload: key + value
	crc | isDelete | keySize | valueSize | key | value
the crc is computed over everything after the crc field.
*/

func (cl *CodecImpl) MarshalRecordHeader(header *model.RecordHeader) ([]byte, int64, error) {
	data := make([]byte, model.MaxHeaderSize)

	binary.BigEndian.PutUint32(data[:4], header.Crc)

	if header.IsDelete {
		data[4] = 1
	}

	idx := 5
	idx += binary.PutVarint(data[idx:], header.KeySize)
	idx += binary.PutVarint(data[idx:], header.ValueSize)

	return data[:idx], int64(idx), nil
}

func (cl *CodecImpl) UnmarshalRecordHeader(headerData []byte, header *model.RecordHeader) (int64, error) {
	if len(headerData) < 5 {
		return 0, io.ErrUnexpectedEOF
	}

	crc := binary.BigEndian.Uint32(headerData[:4])

	var isDelete bool
	if headerData[4] == 1 {
		isDelete = true
	}

	idx := 5
	keySize, n := binary.Varint(headerData[idx:])
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	idx += n

	valueSize, n := binary.Varint(headerData[idx:])
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	idx += n

	header.Crc = crc
	header.IsDelete = isDelete
	header.KeySize = keySize
	header.ValueSize = valueSize

	return int64(idx), nil
}

func (cl *CodecImpl) MarshalRecord(record *model.Record) ([]byte, int64, error) {
	data := make([]byte, 0, len(record.Key)+len(record.Value))
	data = append(data, record.Key...)
	data = append(data, record.Value...)
	return data, int64(len(data)), nil
}

func (cl *CodecImpl) UnmarshalRecord(data []byte, header *model.RecordHeader, record *model.Record) error {
	kz, vz := header.KeySize, header.ValueSize
	if kz < 0 || vz < 0 || int64(len(data)) < kz+vz {
		return io.ErrUnexpectedEOF
	}
	record.Key = data[:kz]
	record.Value = data[kz : kz+vz]
	record.IsDelete = header.IsDelete
	return nil
}
