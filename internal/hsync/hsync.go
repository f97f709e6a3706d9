// Package hsync implements the synchronization protocol between catalog
// instances sharing one metadata store. It is pull-based: DetectChanges
// compares the persisted revision against the last one seen, reloads the
// catalog when the revision advanced, and hands the fresh snapshot to every
// registered observer. There is no process-wide daemon; each Synchronizer is
// an owned component wired to the catalogs it serves.
package hsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shardmap/shardmap/internal/catalog"
	"github.com/shardmap/shardmap/pkg/logger"
)

// Observer receives the refreshed snapshot after a reload. Catalog instances
// implement it; delivery order across observers is unspecified.
type Observer interface {
	ApplySnapshot(snap *catalog.Snapshot)
}

// Synchronizer detects persisted metadata changes and fans them out.
type Synchronizer struct {
	store  catalog.Store
	logger *logger.Logger

	mu        sync.Mutex
	lastRev   int64
	observers map[uuid.UUID]Observer
}

// New creates a synchronizer over the shared metadata store.
func New(store catalog.Store, log *logger.Logger) *Synchronizer {
	return &Synchronizer{
		store:     store,
		logger:    log,
		lastRev:   -1,
		observers: make(map[uuid.UUID]Observer),
	}
}

// Register adds an observer and returns a handle for deregistration.
func (s *Synchronizer) Register(o Observer) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := uuid.New()
	s.observers[handle] = o
	return handle
}

// Deregister removes a previously registered observer.
func (s *Synchronizer) Deregister(handle uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, handle)
}

// DetectChanges compares the persisted revision against the cached one. If
// the revision advanced, the full catalog is reloaded and every observer
// receives the new snapshot. The resulting view is monotonically
// non-decreasing; an unchanged revision is a no-op.
func (s *Synchronizer) DetectChanges(ctx context.Context) error {
	revision, _, err := s.store.Semaphore(ctx)
	if err != nil {
		return catalog.WrapPersistence("reading catalog revision", err)
	}

	s.mu.Lock()
	if revision <= s.lastRev {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	snap, err := s.store.Load(ctx)
	if err != nil {
		return catalog.WrapPersistence("reloading catalog", err)
	}

	s.mu.Lock()
	if snap.Revision <= s.lastRev {
		// Another caller reloaded past us while we were loading.
		s.mu.Unlock()
		return nil
	}
	s.lastRev = snap.Revision
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	s.logger.Debugf("Catalog advanced to revision %d, notifying %d observers", snap.Revision, len(observers))
	for _, o := range observers {
		o.ApplySnapshot(snap)
	}
	return nil
}

// Run polls DetectChanges on the given interval until the context is
// canceled. Mutating operations trigger detection on their own; the poll
// covers changes made by other processes.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.DetectChanges(ctx); err != nil {
				s.logger.Errorf("Periodic catalog sync failed: %v", err)
			}
		}
	}
}
