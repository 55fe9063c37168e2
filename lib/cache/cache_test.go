package cache

import (
	"bytes"
	"errors"
	"testing"
)

const testNS = "store-1"

// newTestCache creates a cache with the given capacity and one namespace
// whose flushed entries are appended to the returned slice pointer.
func newTestCache(t *testing.T, maxBytes int64) (*Cache, *[]flushed) {
	t.Helper()

	c := New(maxBytes)
	var log []flushed

	err := c.Register(testNS, func(e *Entry) error {
		prior, ok := e.Prior()
		log = append(log, flushed{
			key:      append([]byte(nil), e.Key...),
			value:    append([]byte(nil), e.Value...),
			prior:    append([]byte(nil), prior...),
			priorSet: ok,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	return c, &log
}

type flushed struct {
	key      []byte
	value    []byte
	prior    []byte
	priorSet bool
}

func TestPutAndGet(t *testing.T) {
	c, _ := newTestCache(t, 1<<20)

	if err := c.Put(testNS, []byte("key"), []byte("value"), RecordContext{Timestamp: 10}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	e, ok := c.Get(testNS, []byte("key"))
	if !ok {
		t.Fatalf("Expected a resident entry for %q", "key")
	}
	if !bytes.Equal(e.Value, []byte("value")) {
		t.Errorf("Expected value %q, got %q", "value", e.Value)
	}
	if !e.Dirty {
		t.Errorf("Expected a fresh entry to be dirty")
	}
	if e.Context.Timestamp != 10 {
		t.Errorf("Expected record context to be carried, got timestamp %d", e.Context.Timestamp)
	}

	if _, ok := c.Get(testNS, []byte("missing")); ok {
		t.Errorf("Expected a miss for an absent key")
	}
	if _, ok := c.Get("no-such-namespace", []byte("key")); ok {
		t.Errorf("Expected a miss for an unknown namespace")
	}
}

func TestPutCopiesValue(t *testing.T) {
	c, _ := newTestCache(t, 1<<20)

	value := []byte("value")
	if err := c.Put(testNS, []byte("key"), value, RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value[0] = 'X'

	e, _ := c.Get(testNS, []byte("key"))
	if !bytes.Equal(e.Value, []byte("value")) {
		t.Errorf("Cached value aliases the caller's slice")
	}
}

func TestTombstone(t *testing.T) {
	c, _ := newTestCache(t, 1<<20)

	if err := c.Put(testNS, []byte("key"), nil, RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	e, ok := c.Get(testNS, []byte("key"))
	if !ok {
		t.Fatalf("Expected a resident tombstone entry")
	}
	if e.Value != nil {
		t.Errorf("Expected a nil value for a tombstone, got %q", e.Value)
	}
}

func TestByteAccounting(t *testing.T) {
	c, _ := newTestCache(t, 1<<20)

	key := []byte("key")
	if err := c.Put(testNS, key, []byte("value"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	want := int64(len(key) + len("value") + EntryOverhead)
	if got := c.BytesUsed(); got != want {
		t.Errorf("Expected %d accounted bytes, got %d", want, got)
	}

	// Overwriting with a longer value grows the accounting in place
	if err := c.Put(testNS, key, []byte("a-much-longer-value"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	want = int64(len(key) + len("a-much-longer-value") + EntryOverhead)
	if got := c.BytesUsed(); got != want {
		t.Errorf("Expected %d accounted bytes after overwrite, got %d", want, got)
	}
	if c.Size() != 1 {
		t.Errorf("Expected a single entry after overwrite, got %d", c.Size())
	}

	if ok := c.Delete(testNS, key); !ok {
		t.Fatalf("Expected Delete to report the entry as removed")
	}
	if got := c.BytesUsed(); got != 0 {
		t.Errorf("Expected 0 accounted bytes after delete, got %d", got)
	}
}

func TestEvictionOrderIsLRU(t *testing.T) {
	// Room for exactly two single-byte entries
	entryBytes := int64(1 + 1 + EntryOverhead)
	c, log := newTestCache(t, 2*entryBytes)

	put := func(k string) {
		t.Helper()
		if err := c.Put(testNS, []byte(k), []byte("x"), RecordContext{}); err != nil {
			t.Fatalf("Put(%q) failed: %v", k, err)
		}
	}

	put("a")
	put("b")

	// Touch "a" so "b" becomes the eviction candidate
	if _, ok := c.Get(testNS, []byte("a")); !ok {
		t.Fatalf("Expected %q to be resident", "a")
	}

	put("c")

	if len(*log) != 1 {
		t.Fatalf("Expected exactly one eviction flush, got %d", len(*log))
	}
	if !bytes.Equal((*log)[0].key, []byte("b")) {
		t.Errorf("Expected %q to be evicted, got %q", "b", (*log)[0].key)
	}

	if _, ok := c.Get(testNS, []byte("b")); ok {
		t.Errorf("Expected %q to be gone after eviction", "b")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(testNS, []byte(k)); !ok {
			t.Errorf("Expected %q to still be resident", k)
		}
	}
}

func TestEvictionFlushesBeforeRemoval(t *testing.T) {
	entryBytes := int64(1 + 1 + EntryOverhead)

	c := New(entryBytes)
	var sawResident bool
	err := c.Register(testNS, func(e *Entry) error {
		// The entry must still be resident while the callback runs
		sawResident = e.ns != nil && e.ns.entries.Get(&Entry{Key: e.Key}) != nil
		return nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := c.Put(testNS, []byte("a"), []byte("x"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put(testNS, []byte("b"), []byte("x"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if !sawResident {
		t.Errorf("Expected the flush callback to run before the entry is removed")
	}
}

func TestEvictionAbortsOnCallbackError(t *testing.T) {
	entryBytes := int64(1 + 1 + EntryOverhead)
	wantErr := errors.New("persistence down")

	c := New(entryBytes)
	if err := c.Register(testNS, func(e *Entry) error { return wantErr }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := c.Put(testNS, []byte("a"), []byte("x"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// The second Put triggers an eviction whose flush fails
	if err := c.Put(testNS, []byte("b"), []byte("x"), RecordContext{}); !errors.Is(err, wantErr) {
		t.Fatalf("Expected the callback error to propagate, got %v", err)
	}

	// The failed entry stays dirty and resident
	e, ok := c.Get(testNS, []byte("a"))
	if !ok {
		t.Fatalf("Expected the entry to stay resident after a failed eviction")
	}
	if !e.Dirty {
		t.Errorf("Expected the entry to stay dirty after a failed eviction")
	}
}

func TestEvictionCrossesNamespaces(t *testing.T) {
	entryBytes := int64(1 + 1 + EntryOverhead)
	c := New(2 * entryBytes)

	var evictedFrom string
	for _, ns := range []string{"ns-a", "ns-b"} {
		ns := ns
		if err := c.Register(ns, func(e *Entry) error {
			evictedFrom = ns
			return nil
		}); err != nil {
			t.Fatalf("Register(%q) failed: %v", ns, err)
		}
	}

	if err := c.Put("ns-a", []byte("a"), []byte("x"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put("ns-b", []byte("b"), []byte("x"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// This insert into ns-b must evict the oldest entry, which lives in ns-a
	if err := c.Put("ns-b", []byte("c"), []byte("x"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if evictedFrom != "ns-a" {
		t.Errorf("Expected the eviction to hit namespace %q, got %q", "ns-a", evictedFrom)
	}
	if _, ok := c.Get("ns-a", []byte("a")); ok {
		t.Errorf("Expected the entry in %q to be gone", "ns-a")
	}
}

func TestFlushAscendingAndMarksClean(t *testing.T) {
	c, log := newTestCache(t, 1<<20)

	for _, k := range []string{"c", "a", "b"} {
		if err := c.Put(testNS, []byte(k), []byte("v-"+k), RecordContext{}); err != nil {
			t.Fatalf("Put(%q) failed: %v", k, err)
		}
	}

	if err := c.Flush(testNS); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if len(*log) != 3 {
		t.Fatalf("Expected 3 flushed entries, got %d", len(*log))
	}
	for i, want := range []string{"a", "b", "c"} {
		if !bytes.Equal((*log)[i].key, []byte(want)) {
			t.Errorf("Expected flush order position %d to be %q, got %q", i, want, (*log)[i].key)
		}
	}

	// All entries are clean now; a second flush is a no-op
	if err := c.Flush(testNS); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(*log) != 3 {
		t.Errorf("Expected no further callbacks for clean entries, got %d total", len(*log))
	}

	for _, k := range []string{"a", "b", "c"} {
		if e, _ := c.Get(testNS, []byte(k)); e.Dirty {
			t.Errorf("Expected %q to be clean after flush", k)
		}
	}
}

func TestFlushStopsOnCallbackError(t *testing.T) {
	wantErr := errors.New("persistence down")

	c := New(1 << 20)
	var calls int
	if err := c.Register(testNS, func(e *Entry) error {
		calls++
		if bytes.Equal(e.Key, []byte("b")) {
			return wantErr
		}
		return nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Put(testNS, []byte(k), []byte("x"), RecordContext{}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if err := c.Flush(testNS); !errors.Is(err, wantErr) {
		t.Fatalf("Expected the callback error to propagate, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected the flush to stop at the failing entry, got %d calls", calls)
	}

	// "a" is clean, "b" and "c" remain dirty
	if e, _ := c.Get(testNS, []byte("a")); e.Dirty {
		t.Errorf("Expected %q to be clean", "a")
	}
	for _, k := range []string{"b", "c"} {
		if e, _ := c.Get(testNS, []byte(k)); !e.Dirty {
			t.Errorf("Expected %q to stay dirty", k)
		}
	}
}

func TestPriorValueTracking(t *testing.T) {
	c, log := newTestCache(t, 1<<20)
	key := []byte("key")

	// First dirty cycle: the key never existed before
	if err := c.Put(testNS, key, []byte("a"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Flush(testNS); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if (*log)[0].priorSet {
		t.Errorf("Expected no prior value on the first dirty cycle")
	}

	// Second dirty cycle: the prior value is the flushed "a", even after
	// several overwrites within the cycle
	if err := c.Put(testNS, key, []byte("b"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put(testNS, key, []byte("c"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Flush(testNS); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	last := (*log)[len(*log)-1]
	if !last.priorSet {
		t.Fatalf("Expected a prior value on the second dirty cycle")
	}
	if !bytes.Equal(last.prior, []byte("a")) {
		t.Errorf("Expected prior value %q, got %q", "a", last.prior)
	}
	if !bytes.Equal(last.value, []byte("c")) {
		t.Errorf("Expected flushed value %q, got %q", "c", last.value)
	}
}

func TestRecordPriorCapturesOnce(t *testing.T) {
	c := New(1 << 20)

	var priors [][]byte
	if err := c.Register(testNS, func(e *Entry) error {
		// A write-through pins the durable value it found; a value
		// already captured by Put must not be overwritten
		e.RecordPrior([]byte("durable"))
		p, ok := e.Prior()
		if !ok {
			t.Errorf("Expected a prior value after RecordPrior")
		}
		priors = append(priors, append([]byte(nil), p...))
		return nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	key := []byte("key")

	// First cycle: the entry is fresh, so the callback's capture sticks
	if err := c.Put(testNS, key, []byte("v1"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Flush(testNS); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !bytes.Equal(priors[0], []byte("durable")) {
		t.Errorf("Expected the callback's capture %q, got %q", "durable", priors[0])
	}

	// Second cycle: Put already captured the pre-dirty value, so the
	// callback's RecordPrior is a no-op
	if err := c.Put(testNS, key, []byte("v2"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Flush(testNS); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !bytes.Equal(priors[1], []byte("v1")) {
		t.Errorf("Expected the pre-dirty value %q, got %q", "v1", priors[1])
	}
}

func TestRange(t *testing.T) {
	c, _ := newTestCache(t, 1<<20)

	for _, k := range []string{"a", "b", "c", "d"} {
		if err := c.Put(testNS, []byte(k), []byte("v-"+k), RecordContext{}); err != nil {
			t.Fatalf("Put(%q) failed: %v", k, err)
		}
	}

	entries, err := c.Range(testNS, []byte("b"), []byte("c"))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries in [b, c], got %d", len(entries))
	}
	if !bytes.Equal(entries[0].Key, []byte("b")) || !bytes.Equal(entries[1].Key, []byte("c")) {
		t.Errorf("Expected entries b and c in order, got %q and %q", entries[0].Key, entries[1].Key)
	}

	// Inverted bounds yield nothing
	entries, err = c.Range(testNS, []byte("d"), []byte("a"))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries for inverted bounds, got %d", len(entries))
	}
}

func TestDeleteIsSilent(t *testing.T) {
	c, log := newTestCache(t, 1<<20)

	if err := c.Put(testNS, []byte("key"), []byte("value"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if ok := c.Delete(testNS, []byte("key")); !ok {
		t.Fatalf("Expected Delete to remove the entry")
	}
	if len(*log) != 0 {
		t.Errorf("Expected no callback for a silent delete, got %d", len(*log))
	}
	if ok := c.Delete(testNS, []byte("key")); ok {
		t.Errorf("Expected Delete of an absent key to report false")
	}
}

func TestCloseFlushesAndClears(t *testing.T) {
	c, log := newTestCache(t, 1<<20)

	for _, k := range []string{"a", "b"} {
		if err := c.Put(testNS, []byte(k), []byte("x"), RecordContext{}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if err := c.Close(testNS); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(*log) != 2 {
		t.Errorf("Expected both dirty entries to be flushed on close, got %d", len(*log))
	}
	if c.Size() != 0 {
		t.Errorf("Expected an empty cache after close, got %d entries", c.Size())
	}
	if c.BytesUsed() != 0 {
		t.Errorf("Expected 0 accounted bytes after close, got %d", c.BytesUsed())
	}

	// The namespace is gone
	if err := c.Flush(testNS); err == nil {
		t.Errorf("Expected Flush to fail for a closed namespace")
	}
	// And its name can be taken again
	if err := c.Register(testNS, func(e *Entry) error { return nil }); err != nil {
		t.Errorf("Expected the namespace name to be reusable after close: %v", err)
	}
}

func TestCloseKeepsEntriesOnFlushError(t *testing.T) {
	wantErr := errors.New("persistence down")

	c := New(1 << 20)
	if err := c.Register(testNS, func(e *Entry) error { return wantErr }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := c.Put(testNS, []byte("key"), []byte("value"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := c.Close(testNS); !errors.Is(err, wantErr) {
		t.Fatalf("Expected the flush error to propagate from Close, got %v", err)
	}

	// Nothing was removed, the dirty entry is still recoverable
	if c.Size() != 1 {
		t.Errorf("Expected the entry to survive a failed close, got %d entries", c.Size())
	}
	if _, ok := c.Get(testNS, []byte("key")); !ok {
		t.Errorf("Expected the namespace to survive a failed close")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	c, _ := newTestCache(t, 1<<20)

	if err := c.Register(testNS, func(e *Entry) error { return nil }); err == nil {
		t.Errorf("Expected Register to fail for a duplicate namespace name")
	}
}

func TestStats(t *testing.T) {
	c, _ := newTestCache(t, 1<<20)

	if err := c.Put(testNS, []byte("key"), []byte("value"), RecordContext{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	c.Get(testNS, []byte("key"))
	c.Get(testNS, []byte("missing"))
	if err := c.Flush(testNS); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d and %d", stats.Hits, stats.Misses)
	}
	if stats.Flushes != 1 {
		t.Errorf("Expected 1 flush, got %d", stats.Flushes)
	}
	if stats.Entries != 1 {
		t.Errorf("Expected 1 entry, got %d", stats.Entries)
	}

	var buf bytes.Buffer
	c.WritePrometheus(&buf)
	if !bytes.Contains(buf.Bytes(), []byte("streamstore_cache_hits_total")) {
		t.Errorf("Expected the Prometheus dump to contain the hit counter")
	}
}
