// Package cache implements the bounded write-back cache that sits in front
// of the persistent segmented store inside the windowed store stack. It
// absorbs frequent writes to time-windowed keys in memory and defers
// serialization and disk writes until an entry is flushed or evicted.
//
// The package focuses on:
//   - Namespace partitioning: several store instances share one cache,
//     each under its own namespace, with one shared byte budget and one
//     shared least-recently-used order across all of them
//   - Synchronous eviction: a Put that pushes the cache over capacity
//     evicts least-recently-used entries before it returns, so the
//     capacity bound holds immediately after every write
//   - Write-back safety: dirty entries are handed to their namespace's
//     FlushFunc before removal, so eviction can never lose an
//     un-persisted write
//   - Ordered iteration: each namespace keeps its entries in a btree
//     indexed by the encoded binary key, which gives Flush and Range
//     their ascending key order
//
// Key Components:
//
//   - Cache: the shared structure holding the namespaces, the byte
//     accounting, the recency list, and the metrics counters. Capacity
//     accounting uses the estimated entry cost (key length + value length
//     + EntryOverhead), not the true memory footprint.
//
//   - Entry: one cached record. Besides key, value, and dirty flag it
//     carries the RecordContext of its latest write and, once per dirty
//     cycle, the previously observed value used for change diffing by the
//     layer above (see Entry.Prior).
//
//   - FlushFunc: the per-namespace write-through callback, invoked for
//     each dirty entry during Flush and for dirty entries about to be
//     evicted. Callback errors leave the entry dirty and propagate to the
//     caller, so a later flush retries the write.
//
// Concurrency: each namespace is expected to be driven by a single
// logical writer, but one Cache instance is shared between sibling
// writers. All methods therefore serialize on an internal lock; eviction
// and flush callbacks run synchronously inside the calling operation.
package cache
