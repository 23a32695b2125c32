package vector

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hyperjump/shiori/internal/errs"
)

// ctxCheckEvery is how many candidates are scored between cancellation checks.
const ctxCheckEvery = 4096

type entry struct {
	id  string
	seq uint64
	vec []float32 // normalized; never modified after insert
}

// MemoryIndex is an in-memory vector index. It scans every live entry while
// small and switches to IVF partitions once trained. Removed entries stay in
// place as tombstones until compaction.
type MemoryIndex struct {
	dimensions int
	opts       Options
	entries    []entry
	slots      map[string]uint32
	tombstones *roaring.Bitmap
	nextSeq    uint64
	ivf        *ivf
	storedType uint8
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int, opts ...Option) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.normalize()
	return &MemoryIndex{
		dimensions: dimensions,
		opts:       o,
		slots:      make(map[string]uint32),
		tombstones: roaring.New(),
	}, nil
}

// Type returns the configured search structure.
func (m *MemoryIndex) Type() IndexType {
	return m.opts.Type
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Insert adds vector under id. Re-inserting a live id replaces it and gives it a
// new insertion position.
func (m *MemoryIndex) Insert(id string, vector []float32) error {
	if len(vector) != m.dimensions {
		return &errs.DimensionMismatchError{Expected: m.dimensions, Actual: len(vector)}
	}
	if id == "" || len(id) > math.MaxUint16 {
		return fmt.Errorf("invalid id length %d", len(id))
	}
	vec := normalized(vector)

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.slots[id]; ok {
		m.tombstones.Add(old)
	}
	slot := uint32(len(m.entries))
	m.entries = append(m.entries, entry{id: id, seq: m.nextSeq, vec: vec})
	m.nextSeq++
	m.slots[id] = slot
	if m.ivf != nil {
		m.ivf.add(slot, vec)
	}
	m.maybeCompactLocked()
	return nil
}

// Add inserts vectors with the given IDs in order.
func (m *MemoryIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for i, id := range ids {
		if err := m.Insert(id, vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

// Remove tombstones id. It reports whether id was present.
func (m *MemoryIndex) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return false
	}
	delete(m.slots, id)
	m.tombstones.Add(slot)
	m.maybeCompactLocked()
	return true
}

// Contains reports whether id is live.
func (m *MemoryIndex) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.slots[id]
	return ok
}

// IDs returns the live ids in insertion order.
func (m *MemoryIndex) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.slots))
	for slot, e := range m.entries {
		if !m.tombstones.Contains(uint32(slot)) {
			ids = append(ids, e.id)
		}
	}
	return ids
}

// Search returns up to k live entries most similar to query.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, &errs.DimensionMismatchError{Expected: m.dimensions, Actual: len(query)}
	}
	if k <= 0 {
		return nil, nil
	}
	q := normalized(query)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.slots) == 0 {
		return nil, nil
	}

	top := &resultHeap{}
	scored := 0
	consider := func(slot uint32) error {
		if scored%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		scored++
		e := &m.entries[slot]
		c := candidate{slot: slot, seq: e.seq, score: InnerProduct(q, e.vec)}
		if top.Len() < k {
			heap.Push(top, c)
		} else if c.better((*top)[0]) {
			(*top)[0] = c
			heap.Fix(top, 0)
		}
		return nil
	}

	if m.ivf == nil {
		for slot := range m.entries {
			if m.tombstones.Contains(uint32(slot)) {
				continue
			}
			if err := consider(uint32(slot)); err != nil {
				return nil, err
			}
		}
	} else {
		candidates := m.ivf.candidates(q, m.opts.Probes)
		candidates.AndNot(m.tombstones)
		it := candidates.Iterator()
		for it.HasNext() {
			if err := consider(it.Next()); err != nil {
				return nil, err
			}
		}
	}

	results := make([]*VectorResult, top.Len())
	for i := len(results) - 1; i >= 0; i-- {
		c := heap.Pop(top).(candidate)
		results[i] = &VectorResult{ID: m.entries[c.slot].id, Score: c.score}
	}
	return results, nil
}

// Size returns the number of live vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

// Stats reports the internal layout.
func (m *MemoryIndex) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Type:       m.opts.Type,
		Dimensions: m.dimensions,
		Live:       len(m.slots),
		Tombstones: int(m.tombstones.GetCardinality()),
	}
	if m.ivf != nil {
		s.Lists = len(m.ivf.lists)
		s.Trained = true
	}
	return s
}

// Clone returns an independent copy. Vector storage is shared because entries
// are immutable; ids, tombstones and lists are copied.
func (m *MemoryIndex) Clone() *MemoryIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &MemoryIndex{
		dimensions: m.dimensions,
		opts:       m.opts,
		entries:    make([]entry, len(m.entries)),
		slots:      make(map[string]uint32, len(m.slots)),
		tombstones: m.tombstones.Clone(),
		nextSeq:    m.nextSeq,
	}
	copy(c.entries, m.entries)
	for id, slot := range m.slots {
		c.slots[id] = slot
	}
	if m.ivf != nil {
		c.ivf = m.ivf.clone()
	}
	return c
}

// Compact physically drops tombstoned entries, preserving insertion order.
func (m *MemoryIndex) Compact() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactLocked()
}

func (m *MemoryIndex) maybeCompactLocked() {
	if m.opts.CompactionRatio <= 0 || len(m.entries) == 0 {
		return
	}
	dead := float64(m.tombstones.GetCardinality())
	if dead > m.opts.CompactionRatio*float64(len(m.entries)) {
		m.compactLocked()
	}
}

func (m *MemoryIndex) compactLocked() {
	if m.tombstones.IsEmpty() {
		return
	}
	remap := make([]uint32, len(m.entries))
	live := make([]entry, 0, len(m.slots))
	for slot, e := range m.entries {
		if m.tombstones.Contains(uint32(slot)) {
			remap[slot] = ^uint32(0)
			continue
		}
		remap[slot] = uint32(len(live))
		m.slots[e.id] = uint32(len(live))
		live = append(live, e)
	}
	m.entries = live
	m.tombstones = roaring.New()
	if m.ivf != nil {
		m.ivf.remap(remap)
	}
}

// Optimize compacts and, when the configured structure calls for it, trains or
// retrains the IVF partitioning. It is meant to run on a private copy before the
// index is published, since it holds the write lock while training.
func (m *MemoryIndex) Optimize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactLocked()

	n := len(m.entries)
	var want bool
	switch m.opts.Type {
	case IndexTypeFlat:
		want = false
	case IndexTypeIVF:
		want = n >= 2*minPerList
	default:
		want = n >= m.opts.ANNThreshold
	}
	if !want {
		m.ivf = nil
		return nil
	}
	if m.ivf != nil && n < 2*m.ivf.trainedOn {
		return nil
	}

	vectors := make([][]float32, n)
	for i := range m.entries {
		vectors[i] = m.entries[i].vec
	}
	trained, err := trainIVF(ctx, vectors, m.listCount(n), m.opts.TrainIterations)
	if err != nil {
		return err
	}
	m.ivf = trained
	return nil
}

func (m *MemoryIndex) listCount(n int) int {
	lists := m.opts.Lists
	if lists <= 0 {
		lists = isqrt(n)
	}
	if max := n / minPerList; lists > max {
		lists = max
	}
	if lists < 1 {
		lists = 1
	}
	return lists
}

// Close releases the index contents.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.slots = make(map[string]uint32)
	m.tombstones = roaring.New()
	m.ivf = nil
	return nil
}

type candidate struct {
	slot  uint32
	seq   uint64
	score float64
}

// better orders by descending score, then ascending insertion sequence.
func (c candidate) better(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	return c.seq < o.seq
}

// resultHeap keeps the worst retained candidate at the root.
type resultHeap []candidate

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[j].better(h[i]) }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func isqrt(n int) int {
	if n <= 0 {
		return 0
	}
	x := 1
	for x*x <= n {
		x++
	}
	return x - 1
}
