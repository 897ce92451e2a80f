// Package store persists package records in a Badger key/value database and
// publishes an ordered change stream for every committed write.
//
// Records are msgpack-encoded under a "pkg/" key prefix. Put replaces the
// full record in a single transaction; the matching Change is emitted while
// the commit lock is still held, so the stream order always equals commit
// order. ClearAll drops every record and emits a single reset event.
//
// The change stream has exactly one consumer: the live cache (package cache).
package store
