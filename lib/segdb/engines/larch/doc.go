// Package larch implements an in-memory segmented store (segdb.SegmentedDB)
// with per-segment ordered indexes, whole-segment retention, and binary
// snapshot persistence. It serves as the durable backstop behind the
// write-back cache of the windowed store stack.
//
// The package focuses on:
//   - Time partitioning: records are routed to fixed-width segments
//     derived from the window start embedded in their encoded key; each
//     segment has its own lock and btree index, so readers of one segment
//     do not contend with writers of another
//   - Whole-segment retention: when configured with NumSegments, segments
//     older than the retention horizon are dropped as one unit on write,
//     and writes into already-expired segments are discarded
//   - Snapshot persistence: the full store state can be written to and
//     restored from a compact binary format
//
// Key Components:
//
//   - larchImpl: the central store structure implementing segdb.SegmentedDB.
//     It manages the segment registry, routes operations to segments, and
//     enforces the retention horizon. The registry is a concurrent map, so
//     segment lookup does not serialize independent callers.
//
//   - segment: one time partition with its own read-write lock and btree
//     index ordered by encoded key. Range collection copies keys and
//     values out, so returned data is safe to retain and modify.
//
// Snapshot Format: the store uses a compact binary format with the
// following structure:
//  1. Magic number "LARCHDB\x00" to identify the file format
//  2. Version number (currently 1)
//  3. Segment interval
//  4. Number of entries
//  5. For each entry: key length, key bytes, value length, value bytes
//
// Note: Save does not lock the store while snapshotting. It creates a
// fuzzy snapshot that does not represent a consistent cut of the store;
// the caller has to quiesce writers if a consistent snapshot is needed.
package larch
