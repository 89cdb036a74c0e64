// Package cache implements the row cache: an in-memory, partially
// populated replica of the durable mutation source, kept coherent with
// writes through write-through updates and with flushes and compactions
// through a phased snapshot protocol.
//
// Each cached partition lives in an entry holding a version chain.
// Entries are populated lazily from the underlying source on read misses
// and evicted by an LRU tracker under memory pressure. A phase counter
// marks every discontinuity in the cache's view of underlying storage;
// populations are tagged with the phase they began in and discard their
// result if the phase advanced before they commit, so an invalidation
// can never be undone by a racing population.
package cache
