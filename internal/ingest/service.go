package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trusttag/trusttag/internal/alerts"
	"github.com/trusttag/trusttag/internal/store"
	"github.com/trusttag/trusttag/internal/verdict"
)

// UnknownID is substituted when a reading arrives without a package ID.
const UnknownID = "UNKNOWN"

// DefaultLockTimeout bounds how long a reading may wait for its per-package
// lock before failing closed with BUSY.
const DefaultLockTimeout = 2 * time.Second

// ErrStoreOffline is returned by Reset when no store is available.
var ErrStoreOffline = errors.New("package store is offline")

// Service is the ingestion service. The zero value is not usable; construct
// with New.
type Service struct {
	store  *store.Store   // nil when the store failed to open at boot
	alerts *alerts.Engine // optional

	locks       *keyLocks
	resetMu     sync.RWMutex // writer side held by Reset, reader side by Ingest
	lockTimeout time.Duration

	limMu  sync.RWMutex
	limits verdict.Limits

	now func() time.Time // injectable for deterministic tests
}

// New creates a Service writing to st. st may be nil, in which case every
// reading is answered with DB_OFFLINE until the process restarts with a
// reachable store. eng may be nil to disable alerting.
func New(st *store.Store, eng *alerts.Engine, limits verdict.Limits, lockTimeout time.Duration) *Service {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Service{
		store:       st,
		alerts:      eng,
		locks:       newKeyLocks(),
		lockTimeout: lockTimeout,
		limits:      limits,
		now:         time.Now,
	}
}

// Limits returns the active classification thresholds.
func (s *Service) Limits() verdict.Limits {
	s.limMu.RLock()
	defer s.limMu.RUnlock()
	return s.limits
}

// SetLimits swaps the classification thresholds. Called on config reload;
// in-flight readings keep the limits they started with.
func (s *Service) SetLimits(lim verdict.Limits) {
	s.limMu.Lock()
	s.limits = lim
	s.limMu.Unlock()
}

// Ingest processes one sensor reading and returns the resulting status.
//
// The returned error is diagnostic only — it accompanies the degraded
// statuses (BUSY, DB_OFFLINE, SERVER_ERR) and is never non-nil alongside a
// persisted verdict. Ingest recovers internal panics rather than letting
// them escape to the transport layer.
func (s *Service) Ingest(ctx context.Context, id string, raw interface{}) (st verdict.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ingest: recovered internal fault", "id", id, "panic", r)
			st = verdict.StatusServerErr
			err = fmt.Errorf("internal fault: %v", r)
		}
	}()

	if id == "" {
		id = UnknownID
	}
	res, ok := store.CoerceInt(raw)
	if !ok {
		// Malformed reading value degrades to zero rather than failing the
		// request.
		res = 0
	}

	if s.store == nil {
		return verdict.StatusDBOffline, ErrStoreOffline
	}

	// Reset holds the writer side while clearing; shared here so a reading
	// can never interleave with a full clear.
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.locks.acquire(lockCtx, id); err != nil {
		slog.Warn("ingest: lock wait exceeded", "id", id, "timeout", s.lockTimeout)
		return verdict.StatusBusy, fmt.Errorf("package %q busy: %w", id, err)
	}
	defer s.locks.release(id)

	pkg, found, err := s.store.Get(id)
	if err != nil {
		return s.storeFailure("read", id, err)
	}

	now := s.now().UTC()
	if !found {
		pkg = store.NewPackage(id, res, now)
	} else {
		origin := pkg.OriginRes
		if !pkg.OriginValid() {
			// Malformed stored baseline: classify this reading against
			// itself, leaving the stored value untouched.
			origin = res
		}
		pkg.Status = verdict.Classify(origin, res, s.Limits())
		pkg.CurrentRes = res
		pkg.LastSeen = now
		pkg.AppendEvent(store.Event{Time: now, Res: res, Label: string(pkg.Status)}, s.store.HistoryLimit())
	}

	if err := s.store.Put(pkg); err != nil {
		return s.storeFailure("write", id, err)
	}

	slog.Debug("ingest: reading accepted", "id", id, "res", res, "status", pkg.Status)

	if s.alerts != nil {
		s.alerts.Evaluate(pkg)
	}
	return pkg.Status, nil
}

// Reset clears the entire store. It excludes every in-flight and incoming
// reading for the duration of the clear, so viewers observe one atomic
// "system empty" transition. Idempotent.
func (s *Service) Reset(ctx context.Context) error {
	if s.store == nil {
		return ErrStoreOffline
	}
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	return s.store.ClearAll()
}

func (s *Service) storeFailure(op, id string, err error) (verdict.Status, error) {
	if store.IsOffline(err) {
		slog.Error("ingest: store offline", "op", op, "id", id, "err", err)
		return verdict.StatusDBOffline, err
	}
	slog.Error("ingest: store fault", "op", op, "id", id, "err", err)
	return verdict.StatusServerErr, err
}
