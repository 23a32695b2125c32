package indexer

import (
	"sync/atomic"
	"time"

	"github.com/hyperjump/shiori/internal/docstore"
	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/vector"
)

// Snapshot is an immutable, published view of the index: vector index, docstore
// and manifest built together. Readers hold a reference between Acquire and
// Release; a snapshot replaced by a newer one is closed once its last reader
// releases it.
type Snapshot struct {
	ID        string
	Index     *vector.MemoryIndex
	Docs      *docstore.Store
	Manifest  *Manifest
	CreatedAt time.Time

	// refs starts at one for the manager's own reference.
	refs atomic.Int64
}

func newSnapshot(id string, idx *vector.MemoryIndex, docs *docstore.Store, man *Manifest) *Snapshot {
	s := &Snapshot{ID: id, Index: idx, Docs: docs, Manifest: man, CreatedAt: time.Now()}
	s.refs.Store(1)
	return s
}

// Size returns the number of indexed chunks.
func (s *Snapshot) Size() int { return s.Index.Size() }

// Documents returns the number of source files in the snapshot.
func (s *Snapshot) Documents() int { return len(s.Manifest.Files) }

func (s *Snapshot) tryAcquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Acquire takes another reference, so a snapshot opened with LoadSnapshot can
// serve readers directly.
func (s *Snapshot) Acquire() (*Snapshot, error) {
	if !s.tryAcquire() {
		return nil, errs.ErrIndexNotReady
	}
	return s, nil
}

// Release drops a reference obtained from Manager.Acquire.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) == 0 {
		_ = s.Index.Close()
	}
}
