package vector

import (
	"fmt"
)

// IndexType selects the search structure.
type IndexType string

const (
	// IndexTypeAuto searches flat until the live count reaches the ANN threshold,
	// then partitions with IVF on the next Optimize.
	IndexTypeAuto IndexType = "auto"
	// IndexTypeFlat always uses exact brute-force search.
	IndexTypeFlat IndexType = "flat"
	// IndexTypeIVF partitions as soon as there are enough vectors to train on.
	IndexTypeIVF IndexType = "ivf"
)

// Defaults for Options.
const (
	DefaultANNThreshold    = 50000
	DefaultProbes          = 8
	DefaultCompactionRatio = 0.2
	DefaultTrainIterations = 8
	// minPerList is the smallest average list size IVF will train for.
	minPerList = 4
)

// Options tunes a MemoryIndex.
type Options struct {
	Type            IndexType
	ANNThreshold    int
	Lists           int
	Probes          int
	CompactionRatio float64
	TrainIterations int
	Compression     Compression
}

// Option configures a MemoryIndex.
type Option func(*Options)

// WithType sets the search structure.
func WithType(t IndexType) Option { return func(o *Options) { o.Type = t } }

// WithANNThreshold sets the live-entry count above which auto indexes partition.
func WithANNThreshold(n int) Option { return func(o *Options) { o.ANNThreshold = n } }

// WithLists fixes the number of IVF lists. Zero derives it from the entry count.
func WithLists(n int) Option { return func(o *Options) { o.Lists = n } }

// WithProbes sets how many IVF lists a query scans.
func WithProbes(n int) Option { return func(o *Options) { o.Probes = n } }

// WithCompactionRatio sets the tombstone fraction that triggers compaction.
// Zero or negative disables automatic compaction.
func WithCompactionRatio(r float64) Option { return func(o *Options) { o.CompactionRatio = r } }

// WithCompression sets the codec used by Save.
func WithCompression(c Compression) Option { return func(o *Options) { o.Compression = c } }

func defaultOptions() Options {
	return Options{
		Type:            IndexTypeAuto,
		ANNThreshold:    DefaultANNThreshold,
		Probes:          DefaultProbes,
		CompactionRatio: DefaultCompactionRatio,
		TrainIterations: DefaultTrainIterations,
		Compression:     CompressionZstd,
	}
}

func (o *Options) normalize() {
	if o.Type == "" {
		o.Type = IndexTypeAuto
	}
	if o.ANNThreshold <= 0 {
		o.ANNThreshold = DefaultANNThreshold
	}
	if o.Probes <= 0 {
		o.Probes = DefaultProbes
	}
	if o.TrainIterations <= 0 {
		o.TrainIterations = DefaultTrainIterations
	}
	if o.Compression == "" {
		o.Compression = CompressionZstd
	}
}

// NewVectorIndex creates a vector index of the specified type ("auto" when empty).
func NewVectorIndex(indexType string, dimensions int, opts ...Option) (*MemoryIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeAuto, IndexTypeFlat, IndexTypeIVF, "":
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: auto, flat, ivf)", indexType)
	}
	if indexType != "" {
		opts = append([]Option{WithType(IndexType(indexType))}, opts...)
	}
	return NewMemoryIndex(dimensions, opts...)
}
