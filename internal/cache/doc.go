// Package cache maintains the live in-memory mirror of the package store and
// fans committed changes out to subscribed viewers.
//
// The mirror is updated solely by consuming the store's change stream — it
// exposes no mutation API. Run is the supervised consumer task: it bootstraps
// the mirror from the store, applies changes in commit order, and on stream
// interruption resyncs with a ramped backoff, evicting all subscribers so
// they re-bootstrap rather than assume missed deltas are recoverable.
//
// Subscribe returns a consistent snapshot plus a bounded update channel.
// A viewer that falls a full buffer behind is evicted (its channel closed)
// and must resubscribe: resync, don't replay.
package cache
