package segdb

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplLarch Implementation = "larch"
)

// Feature represents segmented store features as bit flags
type Feature uint64

const (
	FeaturePut   Feature = 1 << iota // Support for Put operations
	FeatureGet                       // Support for Get operations
	FeatureFetch                     // Support for Fetch operations
	FeatureSave                      // Support for Save operations
	FeatureLoad                      // Support for Load operations
)

func (f Feature) String() string {
	switch f {
	case FeaturePut:
		return "Put"
	case FeatureGet:
		return "Get"
	case FeatureFetch:
		return "Fetch"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

type StoreInfo struct {
	SegmentCount      int            `json:"segment_count"`
	EntryCount        int            `json:"entry_count"`
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// Iterator walks an ascending sequence of (encoded key, value) pairs.
// The usual pattern is:
//
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
//	_ = it.Close()
//
// Key and Value are only valid after Next has returned true.
type Iterator interface {
	// Next advances to the next pair and reports whether one exists.
	Next() bool
	// Key returns the encoded binary key at the current position.
	Key() []byte
	// Value returns the value at the current position.
	Value() []byte
	// Err returns the first error the iterator encountered, if any.
	Err() error
	// Close releases the resources held by the iterator.
	Close() error
}

// KeyValue is one materialized (encoded key, value) pair.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// sliceIterator is an Iterator over a pre-collected slice of pairs.
type sliceIterator struct {
	kvs []KeyValue
	pos int
}

// NewSliceIterator returns an Iterator over the given pairs. The slice
// must already be in ascending key order; the iterator takes ownership.
func NewSliceIterator(kvs []KeyValue) Iterator {
	return &sliceIterator{kvs: kvs, pos: -1}
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.kvs) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Key() []byte   { return it.kvs[it.pos].Key }
func (it *sliceIterator) Value() []byte { return it.kvs[it.pos].Value }
func (it *sliceIterator) Err() error    { return nil }

func (it *sliceIterator) Close() error {
	it.kvs = nil
	return nil
}

// --------------------------------------------------------------------------
// SegmentedDB Interface
// --------------------------------------------------------------------------

// SegmentedDB is the interface consumed by the caching window store for
// durable, time-partitioned storage of encoded windowed keys. Records are
// internally routed to time segments derived from the window start
// embedded in the encoded key.
//
// Implementations can vary in their feature support, which can be queried
// with SupportsFeature.
type SegmentedDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put inserts or idempotently overwrites the value for an encoded key.
	// A nil value deletes the key. Writes that fall into a segment older
	// than the retention horizon are dropped.
	Put(binKey, value []byte) error

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact encoded key.
	// The boolean return value indicates whether a value was found.
	Get(binKey []byte) (value []byte, loaded bool, err error)

	// Fetch returns an ascending iterator over all records of exactly the
	// given domain key whose window start lies in [timeFrom, timeTo].
	Fetch(domainKey []byte, timeFrom, timeTo int64) (Iterator, error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the store to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the store from data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the implementation supports the specified
	// feature. Multiple features can be checked at once using bitwise OR.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the store.
	GetInfo() (info StoreInfo)

	// SegmentInterval returns the width of one time segment.
	SegmentInterval() int64

	// Close closes the store. Further operations fail.
	Close() (err error)
}
