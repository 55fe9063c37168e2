package larch

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/tobgro/streamstore/lib/segdb"
)

// btreeDegree is the branching factor of the per-segment key index.
const btreeDegree = 16

// --------------------------------------------------------------------------
// Segment Item
// --------------------------------------------------------------------------

// segItem is one stored record inside a segment index.
type segItem struct {
	key   []byte
	value []byte
}

// Less implements btree.Item, ordering records by encoded key bytes.
func (i *segItem) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*segItem).key) < 0
}

// --------------------------------------------------------------------------
// Segment Type
// --------------------------------------------------------------------------

// segment is one time partition of the store. Each segment has its own
// lock and ordered index, so readers of one segment do not contend with
// writers of another.
type segment struct {
	id    int64
	mu    sync.RWMutex
	items *btree.BTree // ordered index of *segItem
}

func newSegment(id int64) *segment {
	return &segment{
		id:    id,
		items: btree.New(btreeDegree),
	}
}

// put inserts or overwrites a record. The segment takes ownership of the
// given slices.
func (s *segment) put(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items.ReplaceOrInsert(&segItem{key: key, value: value})
}

// delete removes the record for a key, if present.
func (s *segment) delete(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items.Delete(&segItem{key: key})
}

// get returns a copy of the value stored for a key.
func (s *segment) get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item := s.items.Get(&segItem{key: key})
	if item == nil {
		return nil, false
	}

	stored := item.(*segItem).value
	value := make([]byte, len(stored))
	copy(value, stored)

	return value, true
}

// collectRange appends copies of all records with keys in [lower, upper]
// to dst, in ascending key order, and returns the grown slice.
func (s *segment) collectRange(dst []segdb.KeyValue, lower, upper []byte) []segdb.KeyValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.items.AscendGreaterOrEqual(&segItem{key: lower}, func(item btree.Item) bool {
		si := item.(*segItem)
		if bytes.Compare(si.key, upper) > 0 {
			return false
		}

		kv := segdb.KeyValue{
			Key:   make([]byte, len(si.key)),
			Value: make([]byte, len(si.value)),
		}
		copy(kv.Key, si.key)
		copy(kv.Value, si.value)

		dst = append(dst, kv)
		return true
	})

	return dst
}

// collectAll appends copies of every record in the segment to dst.
func (s *segment) collectAll(dst []segdb.KeyValue) []segdb.KeyValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.items.Ascend(func(item btree.Item) bool {
		si := item.(*segItem)

		kv := segdb.KeyValue{
			Key:   make([]byte, len(si.key)),
			Value: make([]byte, len(si.value)),
		}
		copy(kv.Key, si.key)
		copy(kv.Value, si.value)

		dst = append(dst, kv)
		return true
	})

	return dst
}

// len returns the number of records in the segment.
func (s *segment) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.items.Len()
}
