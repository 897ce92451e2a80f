package cache

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trusttag/trusttag/internal/store"
)

const (
	// Backoff bounds for resyncing after a change stream interruption.
	resyncBackoffMin = time.Second
	resyncBackoffMax = 30 * time.Second
)

var errStreamClosed = errors.New("change stream closed")

// Update is one fan-out delivery to a viewer.
type Update struct {
	// Pkg is the package after the write. Nil when Reset is set.
	Pkg *store.Package

	// Reset marks a full store clear — the viewer's world is now empty.
	Reset bool
}

// Subscription is one viewer's attachment to the cache.
type Subscription struct {
	// Snapshot is the full cache contents at subscribe time, ordered by
	// LastSeen descending. Updates delivered on the channel are exactly the
	// writes committed after this snapshot.
	Snapshot []*store.Package

	// Updates is closed when the viewer is evicted (slow consumer or cache
	// resync) or unsubscribes. A closed channel means: resubscribe for a
	// fresh snapshot.
	Updates <-chan Update

	ch chan Update
}

// Cache is the live state mirror. Construct with New, start with Run.
type Cache struct {
	st  *store.Store
	buf int

	mu   sync.RWMutex
	data map[string]*store.Package
	subs map[*Subscription]struct{}

	healthy atomic.Bool
}

// New creates a Cache reading from st, with viewerBuf as the per-subscriber
// update channel depth.
func New(st *store.Store, viewerBuf int) *Cache {
	return &Cache{
		st:   st,
		buf:  viewerBuf,
		data: make(map[string]*store.Package),
		subs: make(map[*Subscription]struct{}),
	}
}

// Run owns the change stream subscription. It blocks until ctx is cancelled,
// resyncing with backoff whenever the stream is interrupted.
func (c *Cache) Run(ctx context.Context) {
	backoff := resyncBackoffMin
	for {
		err := c.sync(ctx)
		c.healthy.Store(false)
		if ctx.Err() != nil {
			c.evictAll()
			return
		}

		slog.Error("cache: change stream interrupted — resyncing", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			c.evictAll()
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > resyncBackoffMax {
			backoff = resyncBackoffMax
		}
	}
}

// Healthy reports whether the cache is currently consuming the change stream.
func (c *Cache) Healthy() bool { return c.healthy.Load() }

// Snapshot returns a copy of the mirror, ordered by LastSeen descending.
func (c *Cache) Snapshot() []*store.Package {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Len returns the number of mirrored packages.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Subscribe attaches a viewer: a snapshot of the current mirror plus a live
// update channel. The snapshot and the stream are consistent — no write is
// missed or delivered twice across the boundary.
func (c *Cache) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Subscription{
		Snapshot: c.snapshotLocked(),
		ch:       make(chan Update, c.buf),
	}
	sub.Updates = sub.ch
	c.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches a viewer and releases its channel. Safe to call after
// the viewer has already been evicted.
func (c *Cache) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[sub]; ok {
		delete(c.subs, sub)
		close(sub.ch)
	}
}

// --- internal ---------------------------------------------------------------

// sync bootstraps the mirror from the store and then applies the change
// stream until ctx is cancelled (returns nil) or the stream closes (returns
// errStreamClosed).
func (c *Cache) sync(ctx context.Context) error {
	// Attach to the stream before snapshotting. Changes committed while All
	// runs are then replayed from the buffer, which is idempotent because
	// every change carries the full record; if the store rotates the stream
	// out from under us (buffer overflow), the old channel closes and we
	// resync again instead of missing writes.
	changes := c.st.Changes()

	all, err := c.st.All()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.data = make(map[string]*store.Package, len(all))
	for _, p := range all {
		c.data[p.ID] = p
	}
	// Any viewer attached before the resync holds a stale snapshot; force a
	// re-bootstrap rather than replaying into it.
	c.evictAllLocked()
	c.mu.Unlock()

	c.healthy.Store(true)
	slog.Info("cache: synced from store", "packages", len(all))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-changes:
			if !ok {
				return errStreamClosed
			}
			c.apply(ch)
		}
	}
}

// apply updates the mirror for one committed change and fans it out.
func (c *Cache) apply(change store.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var up Update
	if change.Reset {
		c.data = make(map[string]*store.Package)
		up = Update{Reset: true}
	} else {
		c.data[change.PackageID] = change.Pkg
		up = Update{Pkg: change.Pkg}
	}

	for sub := range c.subs {
		select {
		case sub.ch <- up:
		default:
			// Viewer's buffer is full — evict it. It must resubscribe for a
			// fresh snapshot.
			delete(c.subs, sub)
			close(sub.ch)
			slog.Warn("cache: evicted slow viewer", "buffer", c.buf)
		}
	}
}

func (c *Cache) snapshotLocked() []*store.Package {
	out := make([]*store.Package, 0, len(c.data))
	for _, p := range c.data {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Cache) evictAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictAllLocked()
}

func (c *Cache) evictAllLocked() {
	for sub := range c.subs {
		delete(c.subs, sub)
		close(sub.ch)
	}
}
