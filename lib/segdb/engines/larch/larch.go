package larch

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tobgro/streamstore/lib/segdb"
	"github.com/tobgro/streamstore/lib/winkey"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for store behavior and snapshot structure
const (
	magicNum     = "LARCHDB\x00" // Snapshot file format identifier
	larchVersion = 1             // Snapshot format version

	defaultSegmentInterval = int64(60_000) // Default width of one time segment
)

// --------------------------------------------------------------------------
// Core Larch store structure
// --------------------------------------------------------------------------

// larchImpl implements an in-memory segmented store with per-segment
// indexes and whole-segment retention.
type larchImpl struct {
	segmentInterval int64                        // Width of one time segment
	numSegments     int                          // Live segments retained (0 = unlimited)
	segments        *xsync.MapOf[int64, *segment] // Registry of live segments
	maxSegment      atomic.Int64                 // Highest segment id observed
	closed          atomic.Bool
}

// DBOptions configures the larchImpl behavior during initialization
type DBOptions struct {
	SegmentInterval int64 // Width of one time segment (0 = use default)
	NumSegments     int   // How many newest segments to retain (0 = unlimited)
}

// DefaultOptions returns the default larchImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		SegmentInterval: defaultSegmentInterval,
		NumSegments:     0,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewLarchDB creates a new LarchDB instance with the specified options
// (optional).
//
// Thread-safety: This function is not thread-safe and should only be
// called once during initialization.
func NewLarchDB(opts *DBOptions) segdb.SegmentedDB {
	if opts == nil {
		opts = DefaultOptions()
	}

	interval := opts.SegmentInterval
	if interval <= 0 {
		interval = defaultSegmentInterval
	}

	db := &larchImpl{
		segmentInterval: interval,
		numSegments:     opts.NumSegments,
		segments:        xsync.NewMapOf[int64, *segment](),
	}
	db.maxSegment.Store(-1)

	return db
}

// --------------------------------------------------------------------------
// Segment Management
// --------------------------------------------------------------------------

// minLiveSegment returns the oldest segment id still inside the retention
// horizon. With unlimited retention, every segment is live.
func (l *larchImpl) minLiveSegment() int64 {
	if l.numSegments <= 0 {
		return -1 << 62
	}
	return l.maxSegment.Load() - int64(l.numSegments) + 1
}

// observeSegment advances the highest observed segment id and drops
// segments that fell out of the retention horizon.
func (l *larchImpl) observeSegment(segID int64) {
	for {
		curr := l.maxSegment.Load()
		if segID <= curr {
			break
		}
		if l.maxSegment.CompareAndSwap(curr, segID) {
			break
		}
	}

	if l.numSegments <= 0 {
		return
	}

	minLive := l.minLiveSegment()
	l.segments.Range(func(id int64, _ *segment) bool {
		if id < minLive {
			l.segments.Delete(id)
		}
		return true
	})
}

// getOrCreateSegment returns the live segment for an id, creating it on
// first use.
func (l *larchImpl) getOrCreateSegment(segID int64) *segment {
	seg, _ := l.segments.LoadOrCompute(segID, func() *segment {
		return newSegment(segID)
	})
	return seg
}

// liveSegmentsAscending returns the live segments with ids in
// [fromID, toID], ordered by id.
func (l *larchImpl) liveSegmentsAscending(fromID, toID int64) []*segment {
	var segs []*segment
	l.segments.Range(func(id int64, seg *segment) bool {
		if id >= fromID && id <= toID {
			segs = append(segs, seg)
		}
		return true
	})

	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs
}

// --------------------------------------------------------------------------
// Core SegmentedDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Put inserts or idempotently overwrites the value for an encoded key,
// routed to the time segment of the embedded window start. A nil value
// deletes the key. Writes into segments beyond the retention horizon are
// dropped.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *larchImpl) Put(binKey, value []byte) error {
	if l.closed.Load() {
		return fmt.Errorf("larch: store is closed")
	}

	ts, err := winkey.WindowStart(binKey)
	if err != nil {
		return err
	}

	segID := winkey.SegmentID(ts, l.segmentInterval)
	l.observeSegment(segID)

	if segID < l.minLiveSegment() {
		// The segment already expired; the write has nowhere to live.
		return nil
	}

	seg := l.getOrCreateSegment(segID)

	if value == nil {
		seg.delete(binKey)
		return nil
	}

	// Copy key and value to prevent memory corruption.
	keyCopy := make([]byte, len(binKey))
	copy(keyCopy, binKey)
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	seg.put(keyCopy, valueCopy)
	return nil
}

// --------------------------------------------------------------------------
// Core SegmentedDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves the value for an exact encoded key.
// The returned value is a copy of the stored data and therefore safe to
// use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *larchImpl) Get(binKey []byte) ([]byte, bool, error) {
	if l.closed.Load() {
		return nil, false, fmt.Errorf("larch: store is closed")
	}

	ts, err := winkey.WindowStart(binKey)
	if err != nil {
		return nil, false, err
	}

	seg, ok := l.segments.Load(winkey.SegmentID(ts, l.segmentInterval))
	if !ok {
		return nil, false, nil
	}

	value, loaded := seg.get(binKey)
	return value, loaded, nil
}

// Fetch returns an ascending iterator over all records of exactly the
// given domain key with window starts in [timeFrom, timeTo]. The scan
// bounds are exact-key bounds: records of other domain keys are never
// observed, even when one key is a prefix of another.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *larchImpl) Fetch(domainKey []byte, timeFrom, timeTo int64) (segdb.Iterator, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("larch: store is closed")
	}

	// Window starts are never negative, so a range that is inverted or
	// ends below zero holds nothing.
	if timeTo < timeFrom || timeTo < 0 {
		return segdb.NewSliceIterator(nil), nil
	}

	lower, err := winkey.LowerBound(domainKey, timeFrom)
	if err != nil {
		return nil, err
	}
	upper, err := winkey.UpperBound(domainKey, timeTo)
	if err != nil {
		return nil, err
	}

	if timeFrom < 0 {
		timeFrom = 0
	}
	fromID := winkey.SegmentID(timeFrom, l.segmentInterval)
	toID := winkey.SegmentID(timeTo, l.segmentInterval)

	var kvs []segdb.KeyValue
	for _, seg := range l.liveSegmentsAscending(fromID, toID) {
		kvs = seg.collectRange(kvs, lower, upper)
	}

	return segdb.NewSliceIterator(kvs), nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the store to the writer.
// Concurrent reading and writing is allowed during the Save operation;
// the snapshot is fuzzy and not a consistent cut of the store.
//
// Thread-safety: This method allows concurrent operations with all other
// methods except Load.
func (l *larchImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	// Collect snapshots of all live segments
	var kvs []segdb.KeyValue
	l.segments.Range(func(_ int64, seg *segment) bool {
		kvs = seg.collectAll(kvs)
		return true
	})

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}

	// Write larch version
	if err := binary.Write(bw, binary.LittleEndian, uint8(larchVersion)); err != nil {
		return err
	}

	// Write segment interval
	if err := binary.Write(bw, binary.LittleEndian, l.segmentInterval); err != nil {
		return err
	}

	// Write total entry count
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(kvs))); err != nil {
		return err
	}

	// Write entries
	for _, kv := range kvs {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(kv.Key))); err != nil {
			return err
		}
		if _, err := bw.Write(kv.Key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(kv.Value))); err != nil {
			return err
		}
		if _, err := bw.Write(kv.Value); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load restores a store from the reader. Existing data is discarded.
//
// Thread-safety: This method is not thread-safe and should not be called
// concurrently with other operations.
func (l *larchImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != larchVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, larchVersion)
	}

	// Read segment interval
	var interval int64
	if err := binary.Read(br, binary.LittleEndian, &interval); err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("invalid segment interval %d", interval)
	}

	// Recreate empty registry with the loaded interval
	l.segments = xsync.NewMapOf[int64, *segment]()
	l.segmentInterval = interval
	l.maxSegment.Store(-1)

	// Read entry count
	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	// Read entries
	for i := uint64(0); i < count; i++ {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		ts, err := winkey.WindowStart(key)
		if err != nil {
			return err
		}

		segID := winkey.SegmentID(ts, l.segmentInterval)
		l.observeSegment(segID)
		l.getOrCreateSegment(segID).put(key, value)
	}

	return nil
}

// --------------------------------------------------------------------------
// SegmentedDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the store
func (l *larchImpl) GetInfo() segdb.StoreInfo {
	segmentCount := 0
	entryCount := 0
	sizeBytes := 0

	l.segments.Range(func(_ int64, seg *segment) bool {
		segmentCount++
		entryCount += seg.len()
		return true
	})

	// rough estimate based on the snapshot layout
	sizeBytes = entryCount * 64

	meta := &struct {
		SegmentInterval int64 `json:"segment_interval"`
		NumSegments     int   `json:"num_segments"`
		MaxSegment      int64 `json:"max_segment"`
		Info            string `json:"info"`
	}{
		SegmentInterval: l.segmentInterval,
		NumSegments:     l.numSegments,
		MaxSegment:      l.maxSegment.Load(),
		Info:            "All values (including SizeBytes) are estimates and may vary depending on the store state.",
	}

	return segdb.StoreInfo{
		SegmentCount: segmentCount,
		EntryCount:   entryCount,
		SizeBytes:    sizeBytes,
		DbType:       segdb.ImplLarch,
		SupportedFeatures: []segdb.Feature{
			segdb.FeaturePut, segdb.FeatureGet, segdb.FeatureFetch,
			segdb.FeatureSave, segdb.FeatureLoad,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific
// SegmentedDB feature
func (l *larchImpl) SupportsFeature(feature segdb.Feature) bool {
	supportedFeatures := segdb.FeaturePut |
		segdb.FeatureGet |
		segdb.FeatureFetch |
		segdb.FeatureSave |
		segdb.FeatureLoad
	return supportedFeatures&feature == feature
}

// SegmentInterval returns the width of one time segment.
func (l *larchImpl) SegmentInterval() int64 {
	return l.segmentInterval
}

// Close marks the store closed. Further operations fail.
func (l *larchImpl) Close() error {
	l.closed.Store(true)
	return nil
}
