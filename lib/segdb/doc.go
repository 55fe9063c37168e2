// Package segdb defines the interface for the persistent segmented store
// backing the windowed store stack, along with the iterator and metadata
// types shared by its implementations. Records are keyed by the encoded
// binary keys of the winkey package and routed to fixed-width time
// segments derived from the embedded window start.
//
// The concrete engines live in subpackages of segdb/engines; see the
// larch engine for the in-memory, snapshot-persistable implementation.
// The segdb/testing package provides a reusable conformance test suite
// for implementations of the SegmentedDB interface.
package segdb
