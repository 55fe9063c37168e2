// Package testing provides a reusable conformance test suite and
// benchmark suite for implementations of the segdb.SegmentedDB interface.
// Engine packages run the suite against their own factory, so every
// implementation is held to the same contract (ordering, exact-key
// scoping, tombstones, persistence round trips, closed-store behavior).
package testing
