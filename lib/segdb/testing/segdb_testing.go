package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/tobgro/streamstore/lib/segdb"
	"github.com/tobgro/streamstore/lib/winkey"
)

// DBFactory is a function that creates a new instance of a SegmentedDB
// implementation
type DBFactory func() segdb.SegmentedDB

// RunSegmentedDBTests runs a comprehensive test suite for a SegmentedDB
// implementation.
func RunSegmentedDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("Overwrite", func(t *testing.T) {
			testOverwrite(t, factory())
		})

		t.Run("Tombstone", func(t *testing.T) {
			testTombstone(t, factory())
		})

		t.Run("FetchOrdering", func(t *testing.T) {
			testFetchOrdering(t, factory())
		})

		t.Run("FetchExactKey", func(t *testing.T) {
			testFetchExactKey(t, factory())
		})

		t.Run("FetchAcrossSegments", func(t *testing.T) {
			testFetchAcrossSegments(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the store supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, store segdb.SegmentedDB, feature segdb.Feature) {
	if !store.SupportsFeature(feature) {
		t.Skip()
	}
}

// encode builds an encoded key or fails the test
func encode(t testing.TB, domainKey string, ts int64) []byte {
	binKey, err := winkey.Encode([]byte(domainKey), ts, 0)
	if err != nil {
		t.Fatalf("Encode(%q, %d) failed: %v", domainKey, ts, err)
	}
	return binKey
}

// drain collects all pairs of an iterator and closes it
func drain(t testing.TB, it segdb.Iterator) []segdb.KeyValue {
	var kvs []segdb.KeyValue
	for it.Next() {
		kvs = append(kvs, segdb.KeyValue{Key: it.Key(), Value: it.Value()})
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("iterator close error: %v", err)
	}
	return kvs
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, store segdb.SegmentedDB) {
	defer store.Close()

	requireFeature(t, store, segdb.FeaturePut)
	requireFeature(t, store, segdb.FeatureGet)

	binKey := encode(t, "test-key", 1000)
	testValue := []byte("test-value")

	if err := store.Put(binKey, testValue); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	result, exists, err := store.Get(binKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !exists {
		t.Errorf("Expected key to exist after Put")
	}
	if !bytes.Equal(result, testValue) {
		t.Errorf("Expected value %s, got %s", testValue, result)
	}

	_, exists, err = store.Get(encode(t, "nonexistent-key", 1000))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// Get should return a copy, not a reference to the stored value
	retrieved, _, _ := store.Get(binKey)
	retrieved[0] = 'X'
	original, _, _ := store.Get(binKey)
	if bytes.Equal(retrieved, original) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testOverwrite(t *testing.T, store segdb.SegmentedDB) {
	defer store.Close()

	requireFeature(t, store, segdb.FeaturePut)
	requireFeature(t, store, segdb.FeatureGet)

	binKey := encode(t, "test-key", 1000)

	if err := store.Put(binKey, []byte("first")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(binKey, []byte("second")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	result, exists, err := store.Get(binKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !exists {
		t.Errorf("Expected key to exist after overwrite")
	}
	if !bytes.Equal(result, []byte("second")) {
		t.Errorf("Expected overwritten value %q, got %q", "second", result)
	}
}

func testTombstone(t *testing.T, store segdb.SegmentedDB) {
	defer store.Close()

	requireFeature(t, store, segdb.FeaturePut)
	requireFeature(t, store, segdb.FeatureGet)

	binKey := encode(t, "test-key", 1000)

	if err := store.Put(binKey, []byte("value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(binKey, nil); err != nil {
		t.Fatalf("Put(nil) failed: %v", err)
	}

	_, exists, err := store.Get(binKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if exists {
		t.Errorf("Expected key to be deleted after Put(nil)")
	}
}

func testFetchOrdering(t *testing.T, store segdb.SegmentedDB) {
	defer store.Close()

	requireFeature(t, store, segdb.FeaturePut)
	requireFeature(t, store, segdb.FeatureFetch)

	// Insert out of order
	timestamps := []int64{500, 100, 900, 300, 700}
	for _, ts := range timestamps {
		if err := store.Put(encode(t, "key", ts), []byte(fmt.Sprintf("v%d", ts))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	it, err := store.Fetch([]byte("key"), 0, 1000)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	kvs := drain(t, it)
	if len(kvs) != len(timestamps) {
		t.Fatalf("Expected %d records, got %d", len(timestamps), len(kvs))
	}

	var prev int64 = -1
	for _, kv := range kvs {
		ts, err := winkey.WindowStart(kv.Key)
		if err != nil {
			t.Fatalf("WindowStart failed: %v", err)
		}
		if ts <= prev {
			t.Errorf("Fetch results not in ascending timestamp order: %d after %d", ts, prev)
		}
		prev = ts
	}

	// Bounds are inclusive on both ends
	it, err = store.Fetch([]byte("key"), 300, 700)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	kvs = drain(t, it)
	if len(kvs) != 3 {
		t.Errorf("Expected 3 records in [300, 700], got %d", len(kvs))
	}
}

func testFetchExactKey(t *testing.T, store segdb.SegmentedDB) {
	defer store.Close()

	requireFeature(t, store, segdb.FeaturePut)
	requireFeature(t, store, segdb.FeatureFetch)

	// "a" is a byte prefix of "aa"; a fetch for one must never observe
	// records of the other
	if err := store.Put(encode(t, "a", 100), []byte("short")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(encode(t, "aa", 100), []byte("long")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	it, err := store.Fetch([]byte("a"), 0, 1000)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	kvs := drain(t, it)
	if len(kvs) != 1 {
		t.Fatalf("Expected exactly 1 record for key \"a\", got %d", len(kvs))
	}
	if !bytes.Equal(kvs[0].Value, []byte("short")) {
		t.Errorf("Expected value %q, got %q", "short", kvs[0].Value)
	}

	it, err = store.Fetch([]byte("aa"), 0, 1000)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	kvs = drain(t, it)
	if len(kvs) != 1 {
		t.Fatalf("Expected exactly 1 record for key \"aa\", got %d", len(kvs))
	}
	if !bytes.Equal(kvs[0].Value, []byte("long")) {
		t.Errorf("Expected value %q, got %q", "long", kvs[0].Value)
	}
}

func testFetchAcrossSegments(t *testing.T, store segdb.SegmentedDB) {
	defer store.Close()

	requireFeature(t, store, segdb.FeaturePut)
	requireFeature(t, store, segdb.FeatureFetch)

	interval := store.SegmentInterval()

	// Records in three different segments
	for i := int64(0); i < 3; i++ {
		ts := i * interval
		if err := store.Put(encode(t, "key", ts), []byte(fmt.Sprintf("seg%d", i))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	it, err := store.Fetch([]byte("key"), 0, 3*interval)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	kvs := drain(t, it)
	if len(kvs) != 3 {
		t.Fatalf("Expected records from 3 segments, got %d", len(kvs))
	}
	for i, kv := range kvs {
		expected := []byte(fmt.Sprintf("seg%d", i))
		if !bytes.Equal(kv.Value, expected) {
			t.Errorf("Expected value %s at position %d, got %s", expected, i, kv.Value)
		}
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	store := factory()
	defer store.Close()

	requireFeature(t, store, segdb.FeaturePut)
	requireFeature(t, store, segdb.FeatureSave)
	requireFeature(t, store, segdb.FeatureLoad)

	for i := int64(0); i < 100; i++ {
		if err := store.Put(encode(t, fmt.Sprintf("key-%d", i), i*10), []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := store.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := factory()
	defer restored.Close()

	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for i := int64(0); i < 100; i++ {
		binKey := encode(t, fmt.Sprintf("key-%d", i), i*10)
		value, exists, err := restored.Get(binKey)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !exists {
			t.Errorf("Expected key-%d to survive the save/load round trip", i)
			continue
		}
		expected := []byte(fmt.Sprintf("value-%d", i))
		if !bytes.Equal(value, expected) {
			t.Errorf("Expected value %s, got %s", expected, value)
		}
	}
}

func testEdgeCases(t *testing.T, store segdb.SegmentedDB) {
	defer store.Close()

	requireFeature(t, store, segdb.FeaturePut)
	requireFeature(t, store, segdb.FeatureFetch)

	// Fetch on an empty store
	it, err := store.Fetch([]byte("nothing"), 0, 1000)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if kvs := drain(t, it); len(kvs) != 0 {
		t.Errorf("Expected empty result on empty store, got %d records", len(kvs))
	}

	// Inverted range yields nothing
	if err := store.Put(encode(t, "key", 500), []byte("value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	it, err = store.Fetch([]byte("key"), 600, 400)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if kvs := drain(t, it); len(kvs) != 0 {
		t.Errorf("Expected empty result for inverted range, got %d records", len(kvs))
	}

	// An entirely negative range holds no window starts; it must not
	// clamp to [0, 0] and surface a record at ts=0
	if err := store.Put(encode(t, "zero", 0), []byte("value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	it, err = store.Fetch([]byte("zero"), -10, -5)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if kvs := drain(t, it); len(kvs) != 0 {
		t.Errorf("Expected empty result for a negative range, got %d records", len(kvs))
	}

	// Empty (but non-nil) value is a regular value, not a tombstone
	binKey := encode(t, "empty", 100)
	if err := store.Put(binKey, []byte{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_, exists, err := store.Get(binKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !exists {
		t.Errorf("Expected empty value to be stored, not treated as delete")
	}
}

func testClose(t *testing.T, store segdb.SegmentedDB) {
	binKey := encode(t, "key", 100)

	if err := store.Put(binKey, []byte("value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := store.Put(binKey, []byte("value")); err == nil {
		t.Errorf("Expected Put on closed store to fail")
	}
	if _, _, err := store.Get(binKey); err == nil {
		t.Errorf("Expected Get on closed store to fail")
	}
	if _, err := store.Fetch([]byte("key"), 0, 1000); err == nil {
		t.Errorf("Expected Fetch on closed store to fail")
	}
}
