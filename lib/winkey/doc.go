// Package winkey implements the binary key encoding used by the windowed
// store stack. A windowed record is addressed by a (domainKey, windowStart,
// sequence) tuple; this package packs that tuple into a single byte string
// that is both order-preserving per domain key and prefix-safe across
// domain keys.
//
// The layout is a big-endian length prefix for the domain key, followed by
// the domain key bytes, a fixed-width window start timestamp and a
// fixed-width sequence number. Because the domain key is length-delimited,
// a range scan bounded by LowerBound and UpperBound for one domain key can
// never observe records of a different key, even when one key is a byte
// prefix of the other.
//
// The package also maps window start timestamps to the time-segment
// identifiers of the persistent store (see SegmentID).
package winkey
