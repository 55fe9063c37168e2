package wstore

import (
	"github.com/tobgro/streamstore/lib/cache"
	"github.com/tobgro/streamstore/lib/segdb"
	"github.com/tobgro/streamstore/lib/winkey"
)

// --------------------------------------------------------------------------
// Cached Record Snapshot
// --------------------------------------------------------------------------

// cachedRecord is one cache entry materialized for merge iteration. The
// snapshot decouples the iterator from the live cache: later puts or
// evictions do not disturb an iteration in progress.
type cachedRecord struct {
	ts        int64
	value     []byte
	tombstone bool
}

// --------------------------------------------------------------------------
// Merge Iterator
// --------------------------------------------------------------------------

// mergeIterator merges the persistent store's ascending iterator with the
// ascending cached records of the same exact-key range, using a
// two-pointer walk. On a timestamp tie the cached record wins and the
// shadowed persisted record is consumed, so every timestamp is emitted at
// most once. Cached tombstones are consumed without being emitted and
// hide any persisted record at their timestamp.
type mergeIterator struct {
	store  segdb.Iterator
	cached []cachedRecord
	pos    int

	// one-record lookahead on the store side
	storeTS  int64
	storeVal []byte
	storeOK  bool

	currTS  int64
	currVal []byte
	err     error
}

// newMergeIterator snapshots the cached entries and wraps both sources.
// It takes ownership of dbIter and closes it on failure.
func newMergeIterator(dbIter segdb.Iterator, entries []*cache.Entry) (*mergeIterator, error) {
	cached := make([]cachedRecord, 0, len(entries))
	for _, e := range entries {
		ts, err := winkey.WindowStart(e.Key)
		if err != nil {
			_ = dbIter.Close()
			return nil, err
		}

		rec := cachedRecord{ts: ts, tombstone: e.Value == nil}
		if !rec.tombstone {
			rec.value = make([]byte, len(e.Value))
			copy(rec.value, e.Value)
		}

		cached = append(cached, rec)
	}

	return &mergeIterator{store: dbIter, cached: cached}, nil
}

// advanceStore loads the next persisted record into the lookahead slot.
func (m *mergeIterator) advanceStore() {
	if !m.store.Next() {
		if err := m.store.Err(); err != nil {
			m.err = err
		}
		return
	}

	ts, err := winkey.WindowStart(m.store.Key())
	if err != nil {
		m.err = err
		return
	}

	m.storeTS = ts
	m.storeVal = m.store.Value()
	m.storeOK = true
}

// Next advances to the next merged (timestamp, value) pair.
func (m *mergeIterator) Next() bool {
	for {
		if m.err != nil {
			return false
		}

		if !m.storeOK {
			m.advanceStore()
			if m.err != nil {
				return false
			}
		}

		haveCache := m.pos < len(m.cached)
		if !haveCache && !m.storeOK {
			return false
		}

		// Cache side wins ties: it reflects the more recent write.
		if haveCache && (!m.storeOK || m.cached[m.pos].ts <= m.storeTS) {
			rec := m.cached[m.pos]
			m.pos++

			if m.storeOK && rec.ts == m.storeTS {
				// Consume the shadowed persisted record.
				m.storeOK = false
			}

			if rec.tombstone {
				continue
			}

			m.currTS, m.currVal = rec.ts, rec.value
			return true
		}

		m.currTS, m.currVal = m.storeTS, m.storeVal
		m.storeOK = false
		return true
	}
}

// Timestamp returns the window start timestamp at the current position.
func (m *mergeIterator) Timestamp() int64 {
	return m.currTS
}

// Value returns the value at the current position.
func (m *mergeIterator) Value() []byte {
	return m.currVal
}

// Err returns the first error the iterator encountered, if any.
func (m *mergeIterator) Err() error {
	return m.err
}

// Close releases both underlying sources.
func (m *mergeIterator) Close() error {
	m.cached = nil
	m.pos = 0
	return m.store.Close()
}
