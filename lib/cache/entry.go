package cache

import (
	"bytes"

	"github.com/google/btree"
)

// --------------------------------------------------------------------------
// Record Context
// --------------------------------------------------------------------------

// RecordContext is the per-record processing metadata supplied by the
// caller of Put. It is attached unchanged to the cache entry so that it
// can be propagated downstream once the entry is flushed or evicted.
type RecordContext struct {
	Timestamp int64  // Record timestamp
	Offset    int64  // Source offset of the record
	Partition int32  // Source partition of the record
	Topic     string // Source topic of the record
}

// --------------------------------------------------------------------------
// Entry Type
// --------------------------------------------------------------------------

// EntryOverhead is the fixed per-entry cost in bytes added to key and
// value lengths for capacity accounting. The accounting is an estimate of
// the memory footprint, not an exact measurement.
const EntryOverhead = 12

// Entry is a single cached record, addressed by its encoded binary key.
// A nil Value marks a tombstone (a pending deletion of the key).
//
// Entries handed to a FlushFunc are owned by the cache; callbacks must
// not retain them past the call and must not mutate them except through
// RecordPrior.
type Entry struct {
	Key     []byte        // Encoded binary key
	Value   []byte        // Cached value, nil = tombstone
	Dirty   bool          // Whether the entry has not yet been written through
	Context RecordContext // Processing context of the latest write

	// prior holds the last durable value observed for this key before the
	// current dirty cycle began. It is captured once when a clean resident
	// entry turns dirty and cleared again when the entry is written through.
	prior    []byte
	priorSet bool

	ns   *namespace
	elem *lruElement
	size int64
}

// Prior returns the value this entry held before the current dirty cycle
// began, and whether such a value was observed. If the entry was not
// resident when the cycle began, the boolean is false and the caller has
// to consult the persistent store for the prior value (see RecordPrior).
func (e *Entry) Prior() ([]byte, bool) {
	return e.prior, e.priorSet
}

// RecordPrior captures v as the entry's pre-dirty-cycle value if none has
// been captured yet. A write-through callback calls this with the durable
// value it found before writing, so that a retry after a failed
// notification still diffs against the value the listener last observed
// rather than the freshly persisted one. The captured value is cleared
// when the entry leaves the dirty state.
func (e *Entry) RecordPrior(v []byte) {
	if e.priorSet {
		return
	}
	e.prior = v
	e.priorSet = true
}

// Size returns the number of bytes this entry is accounted with.
func (e *Entry) Size() int64 {
	return e.size
}

// Less implements btree.Item. Entries are ordered by the byte-lexicographic
// order of their encoded keys.
func (e *Entry) Less(than btree.Item) bool {
	return bytes.Compare(e.Key, than.(*Entry).Key) < 0
}

// entrySize computes the accounted byte cost of an entry.
func entrySize(key, value []byte) int64 {
	return int64(len(key)) + int64(len(value)) + EntryOverhead
}

// --------------------------------------------------------------------------
// LRU List
// --------------------------------------------------------------------------

// lruElement is a node of the intrusive doubly-linked recency list shared
// by all namespaces of a cache. The list head is the most recently used
// entry, the tail the least recently used one.
type lruElement struct {
	entry      *Entry
	prev, next *lruElement
}

// lruList is a minimal doubly-linked list with O(1) push, remove, and
// move-to-front. It is not safe for concurrent use; the owning cache
// serializes access.
type lruList struct {
	head, tail *lruElement
}

// pushFront inserts an entry at the most-recently-used end.
func (l *lruList) pushFront(e *Entry) {
	el := &lruElement{entry: e, next: l.head}
	if l.head != nil {
		l.head.prev = el
	}
	l.head = el
	if l.tail == nil {
		l.tail = el
	}
	e.elem = el
}

// moveToFront marks an entry as most recently used.
func (l *lruList) moveToFront(e *Entry) {
	el := e.elem
	if el == nil || l.head == el {
		return
	}
	l.unlink(el)
	el.prev = nil
	el.next = l.head
	l.head.prev = el
	l.head = el
}

// remove unlinks an entry from the list.
func (l *lruList) remove(e *Entry) {
	if e.elem == nil {
		return
	}
	l.unlink(e.elem)
	e.elem = nil
}

// back returns the least recently used entry, or nil if the list is empty.
func (l *lruList) back() *Entry {
	if l.tail == nil {
		return nil
	}
	return l.tail.entry
}

func (l *lruList) unlink(el *lruElement) {
	if el.prev != nil {
		el.prev.next = el.next
	} else {
		l.head = el.next
	}
	if el.next != nil {
		el.next.prev = el.prev
	} else {
		l.tail = el.prev
	}
	el.prev, el.next = nil, nil
}
