package wstore

import (
	"bytes"

	"github.com/tobgro/streamstore/lib/cache"
	"github.com/tobgro/streamstore/lib/segdb"
	"github.com/tobgro/streamstore/lib/store"
	"github.com/tobgro/streamstore/lib/winkey"
)

// --------------------------------------------------------------------------
// Store States
// --------------------------------------------------------------------------

type storeState int

const (
	stateUninitialized storeState = iota
	stateOpen
	stateClosed
)

// --------------------------------------------------------------------------
// Caching Window Store
// --------------------------------------------------------------------------

// storeImpl is a write-back caching layer in front of a persistent
// segmented store. Puts land in the shared cache only; data reaches the
// persistent store when the cache flushes or evicts, at which point the
// flush listener is notified of the change. Reads merge cached and
// persisted data, so the store provides read-your-writes semantics
// without a synchronous disk write per put.
//
// Thread-safety: one store instance is driven by exactly one logical
// processing thread. The cache handle it holds is shared with sibling
// stores and is internally synchronized; the store's own state is not.
type storeImpl struct {
	name       string
	windowSize int64
	db         segdb.SegmentedDB
	cache      *cache.Cache
	listener   store.FlushListener
	ctx        store.Context
	state      storeState
}

// NewCachingWindowStore creates a window store with the given name,
// window size, persistent backing store, and shared cache. The name
// doubles as the store's cache namespace and must be unique within the
// cache. The store starts uninitialized; call Init before use.
func NewCachingWindowStore(name string, windowSize int64, db segdb.SegmentedDB, c *cache.Cache) store.WindowStore {
	return &storeImpl{
		name:       name,
		windowSize: windowSize,
		db:         db,
		cache:      c,
		listener:   store.NoopListener{},
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Init registers the store's cache namespace and opens the store. It may
// be called exactly once.
func (s *storeImpl) Init(ctx store.Context) error {
	switch s.state {
	case stateOpen:
		return store.NewError(store.RetCInvalidState, "store "+s.name+" is already initialized")
	case stateClosed:
		return store.NewError(store.RetCInvalidState, "store "+s.name+" is closed")
	}

	if err := s.cache.Register(s.name, s.writeThrough); err != nil {
		return store.NewError(store.RetCInternalError, err.Error())
	}

	s.ctx = ctx
	s.state = stateOpen

	return nil
}

// Name returns the name of the store.
func (s *storeImpl) Name() string {
	return s.name
}

// SetFlushListener registers the listener notified of durable changes.
func (s *storeImpl) SetFlushListener(listener store.FlushListener) {
	if listener == nil {
		listener = store.NoopListener{}
	}
	s.listener = listener
}

// checkOpen fails unless the store is in the open state.
func (s *storeImpl) checkOpen() error {
	switch s.state {
	case stateUninitialized:
		return store.NewError(store.RetCInvalidState, "store "+s.name+" is not initialized")
	case stateClosed:
		return store.NewError(store.RetCInvalidState, "store "+s.name+" is closed")
	}
	return nil
}

// Close flushes the cache namespace, clears it, closes the persistent
// store handle, and transitions the store to the terminal closed state.
// If the flush fails, the store stays open and no cached data is dropped,
// so a later Close can retry. Closing an already closed store is a no-op.
func (s *storeImpl) Close() error {
	if s.state == stateClosed {
		return nil
	}

	if s.state == stateOpen {
		// Flush-before-clear: dirty entries must reach the persistent
		// store before the namespace is discarded.
		if err := s.cache.Close(s.name); err != nil {
			return err
		}
	}

	s.state = stateClosed
	return s.db.Close()
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put writes a value for a key at the timestamp of the record currently
// being processed.
func (s *storeImpl) Put(key, value []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.PutAt(key, value, s.ctx.RecordContext().Timestamp)
}

// PutAt writes a value for a key at an explicit timestamp. The write
// lands in the cache only; the persistent store is touched at the
// earliest when the entry is flushed or evicted. Eviction triggered by
// this put is handled synchronously before it returns, including the
// write-through and listener notification of the evicted entry.
func (s *storeImpl) PutAt(key, value []byte, timestamp int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	binKey, err := winkey.Encode(key, timestamp, 0)
	if err != nil {
		return store.NewError(store.RetCEncoding, err.Error())
	}

	return s.cache.Put(s.name, binKey, value, s.ctx.RecordContext())
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Fetch returns an ascending iterator over the values of a key with
// window starts in [timeFrom, timeTo]. Persisted and cached records are
// merged by timestamp; where both sides hold the same timestamp the
// cached value wins, since it reflects the more recent write. Each
// timestamp occurs at most once, and cached tombstones hide persisted
// values.
func (s *storeImpl) Fetch(key []byte, timeFrom, timeTo int64) (store.WindowIterator, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	// Guard before the bounds are built: clamping negative times would
	// otherwise turn an empty requested range into [0, 0]. Window starts
	// are never negative, so a range ending below zero holds nothing.
	if timeTo < timeFrom || timeTo < 0 {
		return newMergeIterator(segdb.NewSliceIterator(nil), nil)
	}

	lower, err := winkey.LowerBound(key, timeFrom)
	if err != nil {
		return nil, store.NewError(store.RetCEncoding, err.Error())
	}
	upper, err := winkey.UpperBound(key, timeTo)
	if err != nil {
		return nil, store.NewError(store.RetCEncoding, err.Error())
	}

	dbIter, err := s.db.Fetch(key, timeFrom, timeTo)
	if err != nil {
		return nil, err
	}

	cached, err := s.cache.Range(s.name, lower, upper)
	if err != nil {
		_ = dbIter.Close()
		return nil, err
	}

	return newMergeIterator(dbIter, cached)
}

// --------------------------------------------------------------------------
// Flush and Write-Through
// --------------------------------------------------------------------------

// Flush writes every dirty cached entry of this store through to the
// persistent store, in ascending key order, and notifies the flush
// listener of each changed key-window. It returns only once every entry
// has been persisted and every listener callback has returned.
func (s *storeImpl) Flush() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.cache.Flush(s.name)
}

// writeThrough persists one dirty cache entry and notifies the listener
// if the durable value changed. It is registered as the namespace's
// flush callback and therefore also runs for entries about to be
// evicted. On error the entry stays dirty, so a later flush retries it.
func (s *storeImpl) writeThrough(e *cache.Entry) error {
	ts, err := winkey.WindowStart(e.Key)
	if err != nil {
		return err
	}

	stored, found, err := s.db.Get(e.Key)
	if err != nil {
		return err
	}
	if !found {
		stored = nil
	}

	// Pin the durable value before writing over it. The entry stays dirty
	// if the notification below fails, and a retry re-reads the store; it
	// would then find the value this attempt persisted and wrongly
	// conclude nothing changed.
	e.RecordPrior(stored)

	// Skip the write if the store already holds this exact value.
	if !valuesEqual(e.Value, stored) {
		if err := s.db.Put(e.Key, e.Value); err != nil {
			return err
		}
	}

	// The old value reported to the listener is the one it last observed:
	// the entry's pre-dirty value if the entry was resident when the dirty
	// cycle began, otherwise the value persisted before this cycle.
	oldValue, _ := e.Prior()

	if valuesEqual(e.Value, oldValue) {
		return nil
	}

	domainKey, err := winkey.DomainKey(e.Key)
	if err != nil {
		return err
	}

	return s.listener.OnChange(store.WindowedKey{
		Key:    domainKey,
		Window: store.Window{Start: ts, End: ts + s.windowSize},
	}, e.Value, oldValue)
}

// valuesEqual compares two values, distinguishing nil (absent or
// tombstone) from an empty byte slice.
func valuesEqual(a, b []byte) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return bytes.Equal(a, b)
}
