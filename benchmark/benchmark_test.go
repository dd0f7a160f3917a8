package benchmark

import (
	"errors"
	"strconv"
	"testing"

	"github.com/kivi/kivi"
)

func newBenchDB(b *testing.B) *kivi.DB {
	db, err := kivi.Open(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func Benchmark_Put(b *testing.B) {
	db := newBenchDB(b)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := db.Put([]byte("key"+strconv.Itoa(i)), []byte("value"+strconv.Itoa(i))); err != nil {
			b.Fatal(err)
		}
	}
}

func Benchmark_Get(b *testing.B) {
	db := newBenchDB(b)
	for i := 0; i < 10000; i++ {
		if err := db.Put([]byte("key"+strconv.Itoa(i)), []byte("value"+strconv.Itoa(i))); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, err := db.Get([]byte("key" + strconv.Itoa(i%10000)))
		if err != nil {
			b.Fatal(err)
		}
	}
}

func Benchmark_Delete(b *testing.B) {
	db := newBenchDB(b)
	for i := 0; i < b.N; i++ {
		if err := db.Put([]byte("key"+strconv.Itoa(i)), []byte("value")); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := db.Delete([]byte("key" + strconv.Itoa(i))); err != nil && !errors.Is(err, kivi.ErrKeyNotFound) {
			b.Fatal(err)
		}
	}
}
