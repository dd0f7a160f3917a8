package fio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileIO_Write(t *testing.T) {
	f, err := NewFileIO(filepath.Join(t.TempDir(), "data"))
	assert.Nil(t, err)

	n, err := f.Write([]byte("hello"))
	assert.Nil(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("world"))
	assert.Nil(t, err)
	assert.Equal(t, 5, n)

	size, err := f.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(10), size)
}

func TestFileIO_Read(t *testing.T) {
	f, err := NewFileIO(filepath.Join(t.TempDir(), "data"))
	assert.Nil(t, err)

	_, err = f.Write([]byte("hello"))
	assert.Nil(t, err)

	buf := make([]byte, 5)
	n, err := f.Read(buf, 0)
	assert.Nil(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), buf)

	n, err = f.Read(buf[:2], 3)
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("lo"), buf[:2])
}

func TestFileIO_Truncate(t *testing.T) {
	f, err := NewFileIO(filepath.Join(t.TempDir(), "data"))
	assert.Nil(t, err)

	_, err = f.Write([]byte("hello world"))
	assert.Nil(t, err)

	err = f.Truncate(5)
	assert.Nil(t, err)

	size, err := f.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(5), size)
}

func TestFlock(t *testing.T) {
	dir := t.TempDir()

	l1 := NewFlock(dir)
	ok, err := l1.TryLock()
	assert.Nil(t, err)
	assert.True(t, ok)

	l2 := NewFlock(dir)
	ok, err = l2.TryLock()
	assert.Nil(t, err)
	assert.False(t, ok)

	err = l1.Unlock()
	assert.Nil(t, err)

	ok, err = l2.TryLock()
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Nil(t, l2.Unlock())
}
