package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/segmentio/ksuid"
)

const (
	pkgPrefix = "pkg/"

	// changeBufSize is the depth of the change stream channel. The cache
	// consumer drains continuously; the buffer only absorbs short bursts.
	changeBufSize = 256
)

// Change is one committed write, published on the change stream.
type Change struct {
	// ID is a k-sortable commit token unique to this change.
	ID string

	// PackageID and Pkg describe the write. Pkg is a copy — consumers own it.
	PackageID string
	Pkg       *Package

	// Reset marks a full store clear. PackageID and Pkg are empty.
	Reset bool
}

// Store is the durable package store. All writes go through Put or ClearAll,
// which serialize on an internal commit lock so the change stream observes
// writes in commit order.
type Store struct {
	db           *badger.DB
	historyLimit int

	commitMu sync.Mutex
	events   chan Change
	closed   bool
}

// Open opens (or creates) the Badger database at path and wraps it in a Store.
func Open(path string, historyLimit int) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db at %q: %w", path, err)
	}
	return New(db, historyLimit), nil
}

// New wraps an already-open Badger database.
func New(db *badger.DB, historyLimit int) *Store {
	return &Store{
		db:           db,
		historyLimit: historyLimit,
		events:       make(chan Change, changeBufSize),
	}
}

// HistoryLimit returns the per-package event retention bound.
func (s *Store) HistoryLimit() int { return s.historyLimit }

// Changes returns the ordered change stream. There must be exactly one
// consumer. The stream closes when the store closes, and also when the
// consumer falls far enough behind that the buffer fills — a closed stream
// means: call Changes again for a fresh channel and resync from a snapshot,
// because changes were lost.
func (s *Store) Changes() <-chan Change {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.events
}

// emitLocked publishes a change without ever blocking a commit. Must be
// called with commitMu held. On a full buffer the current stream is closed
// and replaced; the change itself is dropped, which is safe because the
// consumer rebuilds from a full snapshot on reattach.
func (s *Store) emitLocked(c Change) {
	select {
	case s.events <- c:
	default:
		close(s.events)
		s.events = make(chan Change, changeBufSize)
	}
}

func pkgKey(id string) []byte { return []byte(pkgPrefix + id) }

// Get returns the package for id, or found=false when no record exists.
func (s *Store) Get(id string) (pkg *Package, found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pkgKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			pkg, err = decodePackage(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get package %q: %w", id, err)
	}
	return pkg, true, nil
}

// Put atomically replaces the full record for p.ID and emits the matching
// change event before releasing the commit lock.
func (s *Store) Put(p *Package) error {
	buf, err := encodePackage(p)
	if err != nil {
		return err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if s.closed {
		return badger.ErrDBClosed
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pkgKey(p.ID), buf)
	})
	if err != nil {
		return fmt.Errorf("put package %q: %w", p.ID, err)
	}

	s.emitLocked(Change{
		ID:        ksuid.New().String(),
		PackageID: p.ID,
		Pkg:       p.Clone(),
	})
	return nil
}

// All returns every stored package, in key order.
func (s *Store) All() ([]*Package, error) {
	var out []*Package
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(pkgPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				p, err := decodePackage(val)
				if err != nil {
					return err
				}
				out = append(out, p)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return out, nil
}

// ListRecent returns up to limit packages ordered by LastSeen descending.
// A limit of zero or less returns everything.
func (s *Store) ListRecent(limit int) ([]*Package, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastSeen.Equal(all[j].LastSeen) {
			return all[i].LastSeen.After(all[j].LastSeen)
		}
		return all[i].ID < all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Count returns the number of stored packages. Values are not loaded.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(pkgPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count packages: %w", err)
	}
	return n, nil
}

// ClearAll deletes every record and emits a single reset event. The caller
// (the ingestion service's reset path) holds the store-wide exclusion lock,
// so no write can interleave with the drop.
func (s *Store) ClearAll() error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if s.closed {
		return badger.ErrDBClosed
	}

	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}

	s.emitLocked(Change{ID: ksuid.New().String(), Reset: true})
	return nil
}

// Close closes the change stream and the underlying database.
func (s *Store) Close() error {
	s.commitMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.commitMu.Unlock()
	// Compact before closing so the next open replays less of the value log.
	_ = s.db.Flatten(2)
	for s.db.RunValueLogGC(0.5) == nil {
	}
	return s.db.Close()
}

// IsOffline reports whether err means the backing store is unavailable, as
// opposed to a fault in the request itself.
func IsOffline(err error) bool {
	return errors.Is(err, badger.ErrDBClosed) || errors.Is(err, badger.ErrBlockedWrites)
}
