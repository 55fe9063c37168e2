package testing

import (
	"fmt"
	"testing"

	"github.com/tobgro/streamstore/lib/segdb"
	"github.com/tobgro/streamstore/lib/winkey"
)

// RunSegmentedDBBenchmarks runs a benchmark suite for a SegmentedDB
// implementation.
func RunSegmentedDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, factory())
		})

		b.Run("PutExisting", func(b *testing.B) {
			benchmarkPutExisting(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("Fetch", func(b *testing.B) {
			benchmarkFetch(b, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkPut(b *testing.B, store segdb.SegmentedDB) {
	defer store.Close()

	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		binKey, _ := winkey.Encode([]byte(fmt.Sprintf("key-%d", i)), int64(i), 0)
		if err := store.Put(binKey, value); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkPutExisting(b *testing.B, store segdb.SegmentedDB) {
	defer store.Close()

	binKey, _ := winkey.Encode([]byte("key"), 1000, 0)
	value := []byte("benchmark-value")

	if err := store.Put(binKey, value); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Put(binKey, value); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, store segdb.SegmentedDB) {
	defer store.Close()

	const numKeys = 1024

	keys := make([][]byte, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i], _ = winkey.Encode([]byte(fmt.Sprintf("key-%d", i)), int64(i*10), 0)
		if err := store.Put(keys[i], []byte("benchmark-value")); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := store.Get(keys[i%numKeys]); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkFetch(b *testing.B, store segdb.SegmentedDB) {
	defer store.Close()

	const numRecords = 100

	for i := 0; i < numRecords; i++ {
		binKey, _ := winkey.Encode([]byte("key"), int64(i*10), 0)
		if err := store.Put(binKey, []byte("benchmark-value")); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it, err := store.Fetch([]byte("key"), 0, numRecords*10)
		if err != nil {
			b.Fatal(err)
		}
		for it.Next() {
		}
		_ = it.Close()
	}
}
