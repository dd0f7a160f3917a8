package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kivi/kivi/model"
)

func TestCodecImpl_MarshalRecordHeader(t *testing.T) {
	cl := NewCodecImpl()
	header := &model.RecordHeader{
		Crc:       123,
		IsDelete:  true,
		KeySize:   1 + 1<<7,
		ValueSize: 2,
	}
	data, size, err := cl.MarshalRecordHeader(header)
	assert.Nil(t, err)
	assert.NotNil(t, data)
	assert.Equal(t, 8, int(size))
	assert.Equal(t, int(size), len(data))
}

func TestCodecImpl_UnmarshalRecordHeader(t *testing.T) {
	cl := NewCodecImpl()
	header := &model.RecordHeader{}
	data := []byte{0, 0, 0, 123, 1, 130, 2, 4}
	size, err := cl.UnmarshalRecordHeader(data, header)
	assert.Nil(t, err)
	assert.Equal(t, int64(8), size)
	assert.Equal(t, uint32(123), header.Crc)
	assert.Equal(t, true, header.IsDelete)
	assert.Equal(t, int64(1+1<<7), header.KeySize)
	assert.Equal(t, int64(2), header.ValueSize)
}

func TestCodecImpl_HeaderRoundTrip(t *testing.T) {
	cl := NewCodecImpl()
	in := &model.RecordHeader{
		Crc:       0xdeadbeef,
		KeySize:   3,
		ValueSize: 1024,
	}
	data, size, err := cl.MarshalRecordHeader(in)
	assert.Nil(t, err)

	out := &model.RecordHeader{}
	outSize, err := cl.UnmarshalRecordHeader(data, out)
	assert.Nil(t, err)
	assert.Equal(t, size, outSize)
	assert.Equal(t, in, out)
}

func TestCodecImpl_UnmarshalRecordHeader_Short(t *testing.T) {
	cl := NewCodecImpl()
	header := &model.RecordHeader{}
	_, err := cl.UnmarshalRecordHeader([]byte{0, 0, 0}, header)
	assert.NotNil(t, err)
}

func TestCodecImpl_MarshalRecord(t *testing.T) {
	cl := NewCodecImpl()
	record := &model.Record{
		Key:   []byte("key"),
		Value: []byte("value"),
	}
	data, size, err := cl.MarshalRecord(record)
	assert.Nil(t, err)
	assert.Equal(t, int64(8), size)
	assert.Equal(t, []byte("keyvalue"), data)
}

func TestCodecImpl_UnmarshalRecord(t *testing.T) {
	cl := NewCodecImpl()
	header := &model.RecordHeader{
		KeySize:   3,
		ValueSize: 5,
	}
	record := &model.Record{}
	err := cl.UnmarshalRecord([]byte("keyvalue"), header, record)
	assert.Nil(t, err)
	assert.Equal(t, []byte("key"), record.Key)
	assert.Equal(t, []byte("value"), record.Value)

	err = cl.UnmarshalRecord([]byte("key"), header, record)
	assert.NotNil(t, err)
}
