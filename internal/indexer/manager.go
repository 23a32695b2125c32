package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/shiori/internal/docstore"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/extract"
	"github.com/hyperjump/shiori/internal/vector"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateEmpty State = iota
	StateBuilding
	StateReady
	StateUpdating
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateBuilding:
		return "BUILDING"
	case StateReady:
		return "READY"
	case StateUpdating:
		return "UPDATING"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config holds the corpus, storage and chunking settings of a Manager.
type Config struct {
	CorpusRoot   string
	StorageRoot  string
	Extensions   []string
	Recursive    bool
	ChunkSize    int
	ChunkOverlap int
	Lookback     int
	Workers      int
	IndexType    string
}

// FailedDoc is a source file that could not be ingested.
type FailedDoc struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// BuildReport summarizes one Build or Update.
type BuildReport struct {
	Kind      string        `json:"kind"`
	Indexed   int           `json:"indexed"`
	Unchanged int           `json:"unchanged"`
	Removed   int           `json:"removed"`
	Added     int           `json:"chunks_added"`
	Deleted   int           `json:"chunks_deleted"`
	Embedded  int           `json:"chunks_embedded"`
	Failed    []FailedDoc   `json:"failed,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func (r *BuildReport) fail(path string, err error) {
	r.Failed = append(r.Failed, FailedDoc{Path: path, Error: err.Error()})
}

// Status is a point-in-time view of the Manager.
type Status struct {
	State      string       `json:"state"`
	SnapshotID string       `json:"snapshot_id,omitempty"`
	Chunks     int          `json:"chunks"`
	Documents  int          `json:"documents"`
	IndexStats vector.Stats `json:"index"`
	DiskBytes  int64        `json:"disk_bytes"`
	LastError  string       `json:"last_error,omitempty"`
	LastReport *BuildReport `json:"last_report,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// RemoteStore holds a copy of a published snapshot. Fetch of a missing object
// returns an error matching errs.ErrNotFound.
type RemoteStore interface {
	Fetch(ctx context.Context, name string, w io.Writer) error
	Put(ctx context.Context, name string, r io.Reader, size int64) error
}

// Manager owns the index lifecycle: it builds and incrementally updates
// snapshots on a private copy, persists them, and publishes them atomically to
// readers. Build and Update are serialized; readers never block on them.
type Manager struct {
	cfg        Config
	embedder   embedding.Embedder
	loader     Loader
	chunker    *Chunker
	store      *diskStore
	remote     RemoteStore
	vectorOpts []vector.Option
	logger     *zap.Logger

	writer  sync.Mutex
	lock    *fileLock
	current atomic.Pointer[Snapshot]

	mu         sync.RWMutex
	state      State
	lastErr    error
	lastReport *BuildReport
	updatedAt  time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for build and update events.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithLoader replaces the default extract.Extractor.
func WithLoader(l Loader) Option {
	return func(m *Manager) { m.loader = l }
}

// WithRemote sets the store used to bootstrap an empty storage root.
func WithRemote(r RemoteStore) Option {
	return func(m *Manager) { m.remote = r }
}

// WithVectorOptions passes options to every vector index the manager creates.
func WithVectorOptions(opts ...vector.Option) Option {
	return func(m *Manager) { m.vectorOpts = append(m.vectorOpts, opts...) }
}

// NewManager creates the storage root and takes its writer lock. The manager
// starts EMPTY; call LoadOrBuild or Build to publish a snapshot.
func NewManager(cfg Config, embedder embedding.Embedder, opts ...Option) (*Manager, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.CorpusRoot == "" || cfg.StorageRoot == "" {
		return nil, fmt.Errorf("corpus and storage roots are required")
	}
	var err error
	if cfg.CorpusRoot, err = filepath.Abs(cfg.CorpusRoot); err != nil {
		return nil, fmt.Errorf("absolute corpus path: %w", err)
	}
	if cfg.StorageRoot, err = filepath.Abs(cfg.StorageRoot); err != nil {
		return nil, fmt.Errorf("absolute storage path: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if _, err := vector.NewVectorIndex(cfg.IndexType, max(embedder.Dimensions(), 1)); err != nil {
		return nil, err
	}

	var chunkOpts []ChunkerOption
	if cfg.Lookback > 0 {
		chunkOpts = append(chunkOpts, WithLookback(cfg.Lookback))
	}
	m := &Manager{
		cfg:      cfg,
		embedder: embedder,
		loader:   extract.NewExtractor(),
		chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, chunkOpts...),
		store:    &diskStore{root: cfg.StorageRoot},
	}
	for _, opt := range opts {
		opt(m)
	}
	// the chunker may have clamped the overlap
	m.cfg.ChunkSize, m.cfg.ChunkOverlap = m.chunker.Size(), m.chunker.Overlap()

	if err := os.MkdirAll(cfg.StorageRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	if m.lock, err = lockFile(filepath.Join(cfg.StorageRoot, lockFileName)); err != nil {
		return nil, err
	}
	return m, nil
}

// Header returns the settings recorded in manifests written by m.
func (m *Manager) Header() Header {
	return Header{
		Dimensions:   m.embedder.Dimensions(),
		Model:        embedding.ModelName(m.embedder),
		ChunkSize:    m.cfg.ChunkSize,
		ChunkOverlap: m.cfg.ChunkOverlap,
		Lookback:     m.chunker.Lookback(),
	}
}

// CorpusRoot returns the absolute corpus directory.
func (m *Manager) CorpusRoot() string { return m.cfg.CorpusRoot }

// Extensions returns the eligible file extensions (empty means all).
func (m *Manager) Extensions() []string { return m.cfg.Extensions }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Acquire returns the published snapshot with a reference held. Callers must
// call Release on it. It fails with errs.ErrIndexNotReady before the first
// publish and while the manager is FAILED.
func (m *Manager) Acquire() (*Snapshot, error) {
	if m.State() == StateFailed {
		return nil, fmt.Errorf("%w: last build failed", errs.ErrIndexNotReady)
	}
	for {
		s := m.current.Load()
		if s == nil {
			return nil, errs.ErrIndexNotReady
		}
		if s.tryAcquire() {
			return s, nil
		}
	}
}

// Status reports the state and the published snapshot's size.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := Status{
		State:      m.state.String(),
		LastReport: m.lastReport,
		UpdatedAt:  m.updatedAt,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	if s := m.current.Load(); s != nil && s.tryAcquire() {
		st.SnapshotID = s.ID
		st.Chunks = s.Size()
		st.Documents = s.Documents()
		st.IndexStats = s.Index.Stats()
		s.Release()
	}
	st.DiskBytes, _ = DiskUsageBytes(m.cfg.StorageRoot)
	return st
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// begin moves to BUILDING or UPDATING and returns the state to restore if the
// operation is cancelled.
func (m *Manager) begin(full bool) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	if full && m.current.Load() == nil {
		m.state = StateBuilding
	} else {
		m.state = StateUpdating
	}
	return prev
}

// finish records the outcome of an operation. Cancellation restores prev;
// other errors move to FAILED.
func (m *Manager) finish(prev State, report *BuildReport, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatedAt = time.Now()
	if report != nil {
		m.lastReport = report
	}
	switch {
	case err == nil:
		m.state = StateReady
		m.lastErr = nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		m.state = prev
	default:
		m.state = StateFailed
		m.lastErr = err
	}
}

// Build ingests the whole corpus into a fresh snapshot and publishes it.
// Readers keep using the previous snapshot until the swap.
func (m *Manager) Build(ctx context.Context) (*BuildReport, error) {
	m.writer.Lock()
	defer m.writer.Unlock()
	return m.buildLocked(ctx)
}

func (m *Manager) buildLocked(ctx context.Context) (*BuildReport, error) {
	start := time.Now()
	prev := m.begin(true)
	report := &BuildReport{Kind: "build"}
	m.logInfo("index build started", zap.String("corpus", m.cfg.CorpusRoot))

	snap, err := m.buildSnapshot(ctx, report)
	if err == nil {
		err = m.publishLocked(ctx, snap, true)
	}
	report.Duration = time.Since(start)
	m.finish(prev, report, err)
	if err != nil {
		m.logError("index build failed", err)
		return report, err
	}
	m.logInfo("index build finished",
		zap.String("snapshot", snap.ID),
		zap.Int("documents", report.Indexed),
		zap.Int("chunks", snap.Size()),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (m *Manager) buildSnapshot(ctx context.Context, report *BuildReport) (*Snapshot, error) {
	files, err := m.scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan corpus: %w", err)
	}
	results, err := m.ingestAll(ctx, files, nil, nil)
	if err != nil {
		return nil, err
	}

	idx, err := m.newIndex()
	if err != nil {
		return nil, err
	}
	docs := docstore.New()
	man := NewManifest(m.Header())
	withChunks := 0
	for _, r := range results {
		if r.err != nil {
			report.fail(r.file.Rel, r.err)
			m.logWarn("skipping document", zap.String("path", r.file.Rel), zap.Error(r.err))
			continue
		}
		for _, ch := range r.chunks {
			if err := idx.Insert(ch.ID, ch.Vector); err != nil {
				return nil, fmt.Errorf("failed to index %s: %w", r.file.Rel, err)
			}
			docs.Put(ch.ID, ch.Record())
		}
		man.Files[r.file.Rel] = r.entry()
		report.Indexed++
		report.Added += len(r.chunks)
		report.Embedded += r.embedded
		if len(r.chunks) > 0 {
			withChunks++
		}
	}
	if withChunks == 0 {
		return nil, fmt.Errorf("no documents ingested from %s (%d failed): %w",
			m.cfg.CorpusRoot, len(report.Failed), errs.ErrEmptyCorpus)
	}
	if err := idx.Optimize(ctx); err != nil {
		return nil, fmt.Errorf("failed to optimize index: %w", err)
	}
	return newSnapshot(uuid.New().String(), idx, docs, man), nil
}

// indexOptions are the vector options for every index m creates or reads, with
// the configured index type first so a reloaded index keeps it.
func (m *Manager) indexOptions() []vector.Option {
	return IndexOptions(m.cfg.IndexType, m.vectorOpts...)
}

// IndexOptions prepends the index type to opts. An empty type leaves opts
// unchanged.
func IndexOptions(indexType string, opts ...vector.Option) []vector.Option {
	if indexType == "" {
		return opts
	}
	return append([]vector.Option{vector.WithType(vector.IndexType(indexType))}, opts...)
}

func (m *Manager) newIndex() (*vector.MemoryIndex, error) {
	return vector.NewMemoryIndex(m.embedder.Dimensions(), m.indexOptions()...)
}

// Update re-ingests the given paths (absolute or corpus-relative) on a copy of
// the published snapshot: removed or ineligible files lose their chunks,
// changed files have their chunks replaced, and only chunks not already indexed
// are embedded. A file that fails to ingest keeps its previous chunks. Without
// a published snapshot Update runs a full Build.
func (m *Manager) Update(ctx context.Context, paths []string) (*BuildReport, error) {
	m.writer.Lock()
	defer m.writer.Unlock()
	return m.updateLocked(ctx, paths)
}

func (m *Manager) updateLocked(ctx context.Context, paths []string) (*BuildReport, error) {
	base := m.current.Load()
	if base == nil {
		return m.buildLocked(ctx)
	}
	start := time.Now()
	prev := m.begin(false)
	report := &BuildReport{Kind: "update"}

	snap, changed, err := m.updateSnapshot(ctx, base, paths, report)
	if err == nil && changed {
		err = m.publishLocked(ctx, snap, true)
	}
	report.Duration = time.Since(start)
	m.finish(prev, report, err)
	if err != nil {
		m.logError("index update failed", err)
		return report, err
	}
	if changed {
		m.logInfo("index updated",
			zap.String("snapshot", snap.ID),
			zap.Int("paths", len(paths)),
			zap.Int("chunks_added", report.Added),
			zap.Int("chunks_deleted", report.Deleted),
			zap.Int("failed", len(report.Failed)),
			zap.Duration("duration", report.Duration))
	}
	return report, nil
}

func (m *Manager) updateSnapshot(ctx context.Context, base *Snapshot, paths []string, report *BuildReport) (*Snapshot, bool, error) {
	idx := base.Index.Clone()
	docs := base.Docs.Clone()
	man := base.Manifest.Clone()

	byRel := make(map[string]string)
	for _, p := range paths {
		rel, abs := m.resolve(p)
		byRel[rel] = abs
	}
	rels := make([]string, 0, len(byRel))
	for rel := range byRel {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	changed := false
	remove := func(ids []string) {
		for _, id := range ids {
			if idx.Remove(id) {
				report.Deleted++
			}
			docs.Delete(id)
		}
	}

	var jobs []corpusFile
	drop := func(rel string) {
		e, tracked := man.Files[rel]
		if !tracked {
			return
		}
		remove(e.ChunkIDs)
		delete(man.Files, rel)
		report.Removed++
		changed = true
	}
	for _, rel := range rels {
		f, ok := m.eligible(byRel[rel])
		if ok {
			jobs = append(jobs, f)
			continue
		}
		if _, tracked := man.Files[rel]; tracked {
			drop(rel)
			continue
		}
		// a removed or renamed directory: drop everything tracked under it
		// that is no longer on disk
		for _, under := range man.Paths() {
			if !strings.HasPrefix(under, rel+"/") {
				continue
			}
			if _, ok := m.eligible(filepath.Join(m.cfg.CorpusRoot, filepath.FromSlash(under))); !ok {
				drop(under)
			}
		}
	}

	results, err := m.ingestAll(ctx, jobs,
		func(rel string) *FileEntry { return man.Files[rel] },
		idx.Contains)
	if err != nil {
		return nil, false, err
	}

	for _, r := range results {
		rel := r.file.Rel
		old := man.Files[rel]
		if r.err != nil {
			report.fail(rel, r.err)
			m.logWarn("keeping previous chunks", zap.String("path", rel), zap.Error(r.err))
			continue
		}
		if r.unchanged {
			report.Unchanged++
			if old.ModTime != r.file.ModTime || old.Size != r.file.Size {
				old.ModTime, old.Size = r.file.ModTime, r.file.Size
				changed = true
			}
			continue
		}

		entry := r.entry()
		keep := make(map[string]bool, len(entry.ChunkIDs))
		for _, id := range entry.ChunkIDs {
			keep[id] = true
		}
		if old != nil {
			var stale []string
			for _, id := range old.ChunkIDs {
				if !keep[id] {
					stale = append(stale, id)
				}
			}
			remove(stale)
		}
		for _, ch := range r.chunks {
			if idx.Contains(ch.ID) {
				continue
			}
			if err := idx.Insert(ch.ID, ch.Vector); err != nil {
				return nil, false, fmt.Errorf("failed to index %s: %w", rel, err)
			}
			docs.Put(ch.ID, ch.Record())
			report.Added++
		}
		man.Files[rel] = entry
		report.Indexed++
		report.Embedded += r.embedded
		changed = true
	}
	if !changed {
		return base, false, nil
	}
	if err := idx.Optimize(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to optimize index: %w", err)
	}
	return newSnapshot(uuid.New().String(), idx, docs, man), true, nil
}

// publishLocked optionally persists snap, points CURRENT at it and swaps it in
// for readers. The previous snapshot is released and its directory removed.
func (m *Manager) publishLocked(ctx context.Context, snap *Snapshot, persist bool) error {
	if persist {
		if err := m.store.write(ctx, snap); err != nil {
			_ = os.RemoveAll(m.store.dir(snap.ID))
			return err
		}
		if err := m.store.setCurrent(snap.ID); err != nil {
			_ = os.RemoveAll(m.store.dir(snap.ID))
			return fmt.Errorf("failed to publish snapshot: %w", err)
		}
	}
	if old := m.current.Swap(snap); old != nil {
		old.Release()
	}
	if err := m.store.cleanup(snap.ID); err != nil {
		m.logWarn("failed to remove old snapshots", zap.Error(err))
	}
	return nil
}

// LoadOrBuild publishes the persisted snapshot and brings it up to date with
// the corpus. When nothing is stored locally it first tries the remote store.
// A corrupt snapshot, or one built with different settings, is rebuilt.
func (m *Manager) LoadOrBuild(ctx context.Context) (*BuildReport, error) {
	m.writer.Lock()
	defer m.writer.Unlock()

	snap, err := m.loadLocked(ctx)
	if errors.Is(err, ErrNoSnapshot) && m.remote != nil {
		snap, err = m.bootstrapLocked(ctx)
		if err != nil {
			m.logWarn("remote bootstrap failed, building locally", zap.Error(err))
		}
	}
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			m.logWarn("persisted index unusable, rebuilding", zap.Error(err))
		}
		return m.buildLocked(ctx)
	}
	if err := m.publishLocked(ctx, snap, false); err != nil {
		return nil, err
	}
	m.finish(StateReady, nil, nil)
	m.logInfo("index loaded", zap.String("snapshot", snap.ID), zap.Int("chunks", snap.Size()))

	files, err := m.scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan corpus: %w", err)
	}
	stale := snap.Manifest.Stale(files)
	if len(stale) == 0 {
		return &BuildReport{Kind: "load"}, nil
	}
	m.logInfo("index is stale", zap.Int("paths", len(stale)))
	return m.updateLocked(ctx, stale)
}

func (m *Manager) loadLocked(ctx context.Context) (*Snapshot, error) {
	id, err := m.store.current()
	if err != nil {
		return nil, err
	}
	snap, err := m.store.read(ctx, id, m.Header(), m.indexOptions()...)
	if err != nil {
		return nil, err
	}
	if err := m.Header().Compatible(snap.Manifest.Header); err != nil {
		return nil, fmt.Errorf("index built with different settings: %w", err)
	}
	return snap, nil
}

// Publish uploads the published snapshot's files to the remote store.
func (m *Manager) Publish(ctx context.Context) error {
	if m.remote == nil {
		return fmt.Errorf("no remote store configured")
	}
	snap, err := m.Acquire()
	if err != nil {
		return err
	}
	defer snap.Release()
	dir := m.store.dir(snap.ID)
	for _, name := range []string{IndexFile, DocstoreFile, ManifestFile} {
		if err := putFile(ctx, m.remote, name, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
	}
	m.logInfo("snapshot published", zap.String("snapshot", snap.ID))
	return nil
}

// Close releases the published snapshot and the writer lock. It waits for a
// running Build or Update to finish.
func (m *Manager) Close() error {
	m.writer.Lock()
	defer m.writer.Unlock()
	if old := m.current.Swap(nil); old != nil {
		old.Release()
	}
	return m.lock.unlock()
}

func (m *Manager) logDebug(msg string, fields ...zap.Field) {
	if m.logger != nil {
		m.logger.Debug(msg, fields...)
	}
}

func (m *Manager) logInfo(msg string, fields ...zap.Field) {
	if m.logger != nil {
		m.logger.Info(msg, fields...)
	}
}

func (m *Manager) logWarn(msg string, fields ...zap.Field) {
	if m.logger != nil {
		m.logger.Warn(msg, fields...)
	}
}

func (m *Manager) logError(msg string, err error) {
	if m.logger != nil {
		m.logger.Error(msg, zap.Error(err))
	}
}
