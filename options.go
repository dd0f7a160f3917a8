package kivi

import (
	"github.com/kivi/kivi/codec"
	"github.com/kivi/kivi/fio"
	"github.com/kivi/kivi/keydir"
)

const (
	defaultDataFileSize        int64 = 64 * 1024 * 1024
	defaultCompactionThreshold int64 = 4 * 1024 * 1024
)

type options struct {
	dirPath string

	// dataFileSize is the size at which the active data file is sealed
	// and a new one is opened.
	dataFileSize int64

	// compactionThreshold is the stale-byte count above which a
	// background merge is scheduled.
	compactionThreshold int64

	// syncEveryWrite flushes the active file after every append. Off by
	// default; the file is always flushed on rotation, merge and close.
	syncEveryWrite bool

	ioManagerCreator func(path string) (fio.IOManager, error)
	codec            codec.Codec
	keydir           keydir.Keydir
}

type Option func(*options)

func defaultOptions() *options {
	return &options{
		dataFileSize:        defaultDataFileSize,
		compactionThreshold: defaultCompactionThreshold,
		ioManagerCreator: func(path string) (fio.IOManager, error) {
			return fio.NewFileIO(path)
		},
		codec:  codec.NewCodecImpl(),
		keydir: keydir.NewBTree(0),
	}
}

func WithDataFileSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.dataFileSize = size
		}
	}
}

func WithCompactionThreshold(bytes int64) Option {
	return func(o *options) {
		if bytes > 0 {
			o.compactionThreshold = bytes
		}
	}
}

func WithSyncEveryWrite() Option {
	return func(o *options) {
		o.syncEveryWrite = true
	}
}

func WithIOManagerCreator(fn func(path string) (fio.IOManager, error)) Option {
	return func(o *options) {
		if fn != nil {
			o.ioManagerCreator = fn
		}
	}
}

func WithCodec(codec codec.Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

func WithKeydir(kd keydir.Keydir) Option {
	return func(o *options) {
		if kd != nil {
			o.keydir = kd
		}
	}
}
