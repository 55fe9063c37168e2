// Package store provides the public surface of the windowed state-store
// stack: the WindowStore interface, the flush listener contract, the
// iterator types, and unified error reporting with typed return codes.
//
// The package focuses on:
//   - A single interface (WindowStore) for windowed key-value storage that
//     implementations can provide regardless of their caching or
//     persistence strategy
//   - A capability-style FlushListener through which a store reports
//     exactly-once-per-change notifications when cached data becomes
//     durable or is evicted
//   - An Error system with typed codes (invalid state, encoding,
//     persistence) so callers can react to specific conditions; listener
//     and persistence errors deliberately bypass the wrapper and reach
//     the caller verbatim
//
// Implementations:
//
//	The caching implementation lives in the
//	"github.com/tobgro/streamstore/lib/store/wstore" package. It layers a
//	shared bounded write-back cache over a persistent segmented store and
//	merges both on read, giving read-your-writes semantics without a
//	synchronous disk write per put.
package store
