package cache

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// btreeDegree is the branching factor of the per-namespace key index.
	btreeDegree = 16
)

// --------------------------------------------------------------------------
// Callback Type
// --------------------------------------------------------------------------

// FlushFunc is invoked for a dirty entry right before it leaves the dirty
// state: once per entry during Flush, and once for an entry about to be
// evicted under capacity pressure. The callback is expected to write the
// entry through to durable storage. If it returns an error the entry stays
// dirty and resident, and the error propagates to the caller that
// triggered the flush or eviction.
//
// The callback runs with the cache lock held and must not call back into
// the cache.
type FlushFunc func(entry *Entry) error

// --------------------------------------------------------------------------
// Namespace Type
// --------------------------------------------------------------------------

// namespace is a logical partition of the cache, owned by one store
// instance. Namespaces have independent key indexes but share the byte
// budget and the recency order of the cache they belong to.
type namespace struct {
	name    string
	entries *btree.BTree // ordered index of *Entry by encoded key
	flushFn FlushFunc
}

// --------------------------------------------------------------------------
// Cache Type
// --------------------------------------------------------------------------

// Cache is a bounded, namespace-partitioned write-back cache. All
// namespaces share one byte budget; when an insert pushes the total over
// the configured capacity, least-recently-used entries are evicted
// synchronously inside the triggering Put, regardless of which namespace
// they belong to. Dirty entries are handed to their namespace's FlushFunc
// before their memory is reclaimed, so no un-persisted write is ever lost
// to eviction.
//
// Thread-safety: all methods are safe for concurrent use. Mutating access
// is serialized by an internal lock; each namespace is expected to be
// driven by a single logical writer, but sibling writers may share one
// Cache instance.
type Cache struct {
	mu         sync.Mutex
	maxBytes   int64
	lru        lruList
	namespaces *xsync.MapOf[string, *namespace]

	curBytes atomic.Int64
	entries  atomic.Int64

	// metrics
	set       *metrics.Set
	hits      *metrics.Counter
	misses    *metrics.Counter
	evictions *metrics.Counter
	flushes   *metrics.Counter
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Flushes   uint64 `json:"flushes"`
	Entries   int64  `json:"entries"`
	Bytes     int64  `json:"bytes"`
	MaxBytes  int64  `json:"max_bytes"`
}

// New creates a cache with the given capacity in bytes. The capacity
// bounds the summed accounted sizes of all entries across all namespaces
// (see EntryOverhead), not the true process memory footprint.
func New(maxBytes int64) *Cache {
	c := &Cache{
		maxBytes:   maxBytes,
		namespaces: xsync.NewMapOf[string, *namespace](),
		set:        metrics.NewSet(),
	}

	c.hits = c.set.NewCounter(`streamstore_cache_hits_total`)
	c.misses = c.set.NewCounter(`streamstore_cache_misses_total`)
	c.evictions = c.set.NewCounter(`streamstore_cache_evictions_total`)
	c.flushes = c.set.NewCounter(`streamstore_cache_flushes_total`)
	c.set.NewGauge(`streamstore_cache_size_bytes`, func() float64 {
		return float64(c.curBytes.Load())
	})
	c.set.NewGauge(`streamstore_cache_entries`, func() float64 {
		return float64(c.entries.Load())
	})

	return c
}

// --------------------------------------------------------------------------
// Namespace Management
// --------------------------------------------------------------------------

// Register creates a namespace with the given name and write-through
// callback. It fails if the name is already taken.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Cache) Register(name string, fn FlushFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.namespaces.Load(name); ok {
		return fmt.Errorf("cache: namespace %q already registered", name)
	}

	c.namespaces.Store(name, &namespace{
		name:    name,
		entries: btree.New(btreeDegree),
		flushFn: fn,
	})

	return nil
}

// lookup returns the namespace for a name or an error if it is unknown.
// The caller must hold c.mu.
func (c *Cache) lookup(name string) (*namespace, error) {
	ns, ok := c.namespaces.Load(name)
	if !ok {
		return nil, fmt.Errorf("cache: unknown namespace %q", name)
	}
	return ns, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put inserts or replaces the entry for the given encoded key, marks it
// dirty and most recently used, and updates the byte accounting. If the
// insert pushes the cache over its capacity, least-recently-used entries
// are evicted one at a time before Put returns; dirty ones are handed to
// their namespace's FlushFunc first. A callback error aborts the eviction
// and propagates, leaving the offending entry dirty and resident.
//
// A nil value stores a tombstone for the key.
//
// The first Put that turns a clean resident entry dirty records the
// entry's previous value (see Entry.Prior); later Puts within the same
// dirty cycle only replace the value.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Cache) Put(nsName string, key, value []byte, ctx RecordContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, err := c.lookup(nsName)
	if err != nil {
		return err
	}

	var valueCopy []byte
	if value != nil {
		// Copy value to prevent memory corruption.
		valueCopy = make([]byte, len(value))
		copy(valueCopy, value)
	}

	if existing := ns.entries.Get(&Entry{Key: key}); existing != nil {
		e := existing.(*Entry)

		if !e.Dirty {
			// A new dirty cycle begins: remember what the entry held before.
			e.prior = e.Value
			e.priorSet = true
		}

		newSize := entrySize(e.Key, valueCopy)
		c.curBytes.Add(newSize - e.size)
		e.size = newSize
		e.Value = valueCopy
		e.Dirty = true
		e.Context = ctx
		c.lru.moveToFront(e)
	} else {
		keyCopy := make([]byte, len(key))
		copy(keyCopy, key)

		e := &Entry{
			Key:     keyCopy,
			Value:   valueCopy,
			Dirty:   true,
			Context: ctx,
			ns:      ns,
			size:    entrySize(keyCopy, valueCopy),
		}

		ns.entries.ReplaceOrInsert(e)
		c.lru.pushFront(e)
		c.curBytes.Add(e.size)
		c.entries.Add(1)
	}

	return c.maybeEvict()
}

// maybeEvict removes least-recently-used entries until the cache is back
// under capacity. The caller must hold c.mu.
func (c *Cache) maybeEvict() error {
	for c.curBytes.Load() > c.maxBytes {
		e := c.lru.back()
		if e == nil {
			return nil
		}

		// A dirty entry must be durable before its memory is reclaimed.
		if e.Dirty {
			if err := e.ns.flushFn(e); err != nil {
				return err
			}
		}

		c.removeEntry(e)
		c.evictions.Inc()
	}

	return nil
}

// removeEntry drops an entry from its namespace index, the recency list,
// and the byte accounting. The caller must hold c.mu.
func (c *Cache) removeEntry(e *Entry) {
	e.ns.entries.Delete(e)
	c.lru.remove(e)
	c.curBytes.Add(-e.size)
	c.entries.Add(-1)
}

// Delete silently removes the entry for a key, without invoking any
// callback. It is used when an entry has been superseded or when a
// namespace is torn down after its own flush. Deleting a dirty entry this
// way discards the pending write.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Cache) Delete(nsName string, key []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, err := c.lookup(nsName)
	if err != nil {
		return false
	}

	existing := ns.entries.Get(&Entry{Key: key})
	if existing == nil {
		return false
	}

	c.removeEntry(existing.(*Entry))
	return true
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns the entry for a key and marks it most recently used. The
// returned entry is owned by the cache and must be treated as read-only.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Cache) Get(nsName string, key []byte) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, err := c.lookup(nsName)
	if err != nil {
		c.misses.Inc()
		return nil, false
	}

	existing := ns.entries.Get(&Entry{Key: key})
	if existing == nil {
		c.misses.Inc()
		return nil, false
	}

	e := existing.(*Entry)
	c.lru.moveToFront(e)
	c.hits.Inc()

	return e, true
}

// Range returns the resident entries of a namespace with encoded keys in
// [lower, upper], in ascending key order. The scan is read-only: it does
// not change recency, and the returned entries are owned by the cache.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Cache) Range(nsName string, lower, upper []byte) ([]*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, err := c.lookup(nsName)
	if err != nil {
		return nil, err
	}

	var result []*Entry
	ns.entries.AscendGreaterOrEqual(&Entry{Key: lower}, func(item btree.Item) bool {
		e := item.(*Entry)
		if bytes.Compare(e.Key, upper) > 0 {
			return false
		}
		result = append(result, e)
		return true
	})

	return result, nil
}

// --------------------------------------------------------------------------
// Flush and Teardown
// --------------------------------------------------------------------------

// Flush hands every dirty entry of a namespace to its FlushFunc, in
// ascending encoded-key order, and marks each entry clean once its
// callback has returned. Entries stay resident. If a callback fails, the
// flush stops: the failed entry and every entry after it stay dirty, and
// the error propagates to the caller.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Cache) Flush(nsName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, err := c.lookup(nsName)
	if err != nil {
		return err
	}

	return c.flushLocked(ns)
}

// flushLocked is the callback-driving part of Flush. The caller must hold
// c.mu.
func (c *Cache) flushLocked(ns *namespace) error {
	var dirty []*Entry
	ns.entries.Ascend(func(item btree.Item) bool {
		if e := item.(*Entry); e.Dirty {
			dirty = append(dirty, e)
		}
		return true
	})

	for _, e := range dirty {
		if err := ns.flushFn(e); err != nil {
			return err
		}
		e.Dirty = false
		e.prior = nil
		e.priorSet = false
		c.flushes.Inc()
	}

	return nil
}

// Close flushes a namespace and then removes every entry it owns along
// with the namespace itself. If the flush fails, nothing is removed and
// the error propagates, so no dirty data is lost.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Cache) Close(nsName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, err := c.lookup(nsName)
	if err != nil {
		return err
	}

	if err := c.flushLocked(ns); err != nil {
		return err
	}

	var all []*Entry
	ns.entries.Ascend(func(item btree.Item) bool {
		all = append(all, item.(*Entry))
		return true
	})
	for _, e := range all {
		c.removeEntry(e)
	}

	c.namespaces.Delete(nsName)
	return nil
}

// --------------------------------------------------------------------------
// Diagnostics
// --------------------------------------------------------------------------

// Size returns the number of live entries across all namespaces.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Cache) Size() int {
	return int(c.entries.Load())
}

// BytesUsed returns the accounted byte usage across all namespaces.
func (c *Cache) BytesUsed() int64 {
	return c.curBytes.Load()
}

// MaxBytes returns the configured capacity of the cache.
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() Stats {
	return Stats{
		Hits:      c.hits.Get(),
		Misses:    c.misses.Get(),
		Evictions: c.evictions.Get(),
		Flushes:   c.flushes.Get(),
		Entries:   c.entries.Load(),
		Bytes:     c.curBytes.Load(),
		MaxBytes:  c.maxBytes,
	}
}

// WritePrometheus writes the cache metrics in Prometheus text format.
func (c *Cache) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}
