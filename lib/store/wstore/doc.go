// Package wstore implements the caching window store: the orchestrating
// layer that ties the shared write-back cache and the persistent
// segmented store together behind the store.WindowStore interface.
//
// The package focuses on:
//   - Write absorption: puts land in the cache only, marked dirty; the
//     persistent store is touched when the cache flushes or evicts
//   - Read-your-writes: fetches merge the persistent store's records with
//     the cached ones of the same exact-key range via a two-pointer merge,
//     with cached records winning timestamp ties and cached tombstones
//     hiding persisted values
//   - Change notifications: every flush or eviction of a dirty entry
//     triggers at most one listener notification per changed key-window,
//     carrying the new value and the value the listener last observed
//
// The store follows a strict lifecycle (uninitialized, open, closed);
// operations outside the open state fail with a typed invalid-state
// error. One store instance is driven by a single logical processing
// thread, while the cache it holds is shared with sibling stores of the
// same task.
package wstore
