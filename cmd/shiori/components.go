package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/generation"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/provider"
	"github.com/hyperjump/shiori/internal/remote"
	"github.com/hyperjump/shiori/internal/retrieval"
	"github.com/hyperjump/shiori/internal/vector"
	"go.uber.org/zap"
)

// Components are the long-lived parts shared by serve, mcp and the one-shot
// commands that need the writer lock.
type Components struct {
	Embedder  embedding.Embedder
	Generator generation.Generator
	Manager   *indexer.Manager
	Retrieval *retrieval.Service
}

// Close releases the manager's lock and the embedder.
func (c *Components) Close() {
	if c.Manager != nil {
		_ = c.Manager.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	generator, err := newGenerator(cfg.Generation)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	vectorOpts, err := vectorOptions(cfg.Index)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	opts := []indexer.Option{
		indexer.WithLogger(logger),
		indexer.WithVectorOptions(vectorOpts...),
	}
	store, err := newRemote(ctx, cfg.Remote, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize remote store: %w", err)
	}
	if store != nil {
		opts = append(opts, indexer.WithRemote(store))
	}

	mgr, err := indexer.NewManager(managerConfig(cfg), embedder, opts...)
	if err != nil {
		_ = embedder.Close()
		if errors.Is(err, indexer.ErrLocked) {
			return nil, fmt.Errorf("%w (is `shiori serve` running? pass --server to talk to it)", err)
		}
		return nil, err
	}

	svc := retrieval.NewService(mgr, embedder, generator, retrievalOptions(cfg.Retrieval), retrieval.WithLogger(logger))
	return &Components{
		Embedder:  embedder,
		Generator: generator,
		Manager:   mgr,
		Retrieval: svc,
	}, nil
}

func managerConfig(cfg *config.Config) indexer.Config {
	return indexer.Config{
		CorpusRoot:   cfg.Corpus.Root,
		StorageRoot:  cfg.Storage.Root,
		Extensions:   cfg.Corpus.Extensions,
		Recursive:    cfg.Corpus.RecursiveOrDefault(),
		ChunkSize:    cfg.Chunking.Size,
		ChunkOverlap: cfg.Chunking.Overlap,
		Lookback:     cfg.Chunking.Lookback,
		Workers:      cfg.Index.Workers,
		IndexType:    cfg.Index.Type,
	}
}

func retrievalOptions(cfg config.RetrievalConfig) retrieval.Options {
	return retrieval.Options{TopK: cfg.TopK, MaxContextChars: cfg.MaxContextChars}
}

// newEmbedder builds the configured provider wrapped in the embedding cache.
func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	var inner embedding.Embedder
	switch cfg.Provider {
	case "openai":
		retry := provider.DefaultRetryPolicy(cfg.Timeout)
		if cfg.MaxAttempts > 0 {
			retry.MaxAttempts = cfg.MaxAttempts
		}
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:     config.APIKey(cfg.APIKeyEnv),
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
			Retry:      retry,
			Throttle:   provider.NewThrottle(cfg.RequestsPerSecond, cfg.MaxInFlight),
		})
		if err != nil {
			return nil, err
		}
		inner = e
	case "onnx":
		e, err := embedding.NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		inner = e
	case "hash":
		inner = embedding.NewHashEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	return embedding.NewCachedEmbedder(inner, cfg.CacheSize,
		embedding.WithBatchSize(cfg.BatchSize),
		embedding.WithLogger(logger),
	), nil
}

func newGenerator(cfg config.GenerationConfig) (generation.Generator, error) {
	switch cfg.Provider {
	case "openai":
		retry := provider.DefaultRetryPolicy(cfg.Timeout)
		if cfg.MaxAttempts > 0 {
			retry.MaxAttempts = cfg.MaxAttempts
		}
		return generation.NewOpenAI(generation.OpenAIConfig{
			APIKey:      config.APIKey(cfg.APIKeyEnv),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			Retry:       retry,
		})
	case "extractive":
		return generation.NewExtractive(), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Provider)
	}
}

func vectorOptions(cfg config.IndexConfig) ([]vector.Option, error) {
	compression, err := vector.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	return []vector.Option{
		vector.WithANNThreshold(cfg.ANNThreshold),
		vector.WithCompactionRatio(cfg.CompactionRatio),
		vector.WithLists(cfg.Lists),
		vector.WithProbes(cfg.Probes),
		vector.WithCompression(compression),
	}, nil
}

func newRemote(ctx context.Context, cfg config.RemoteConfig, logger *zap.Logger) (remote.Store, error) {
	return remote.New(ctx, remote.Config{
		Type:      cfg.Type,
		Bucket:    cfg.Bucket,
		Prefix:    cfg.Prefix,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		UseSSL:    cfg.UseSSL,
		AccessKey: config.APIKey(cfg.AccessKeyEnv),
		SecretKey: config.APIKey(cfg.SecretKeyEnv),
	}, logger)
}

// readOnly opens the published snapshot without the writer lock, for commands
// run next to a live server.
type readOnly struct {
	snap     *indexer.Snapshot
	embedder embedding.Embedder
	storage  string
}

func openReadOnly(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*readOnly, error) {
	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	vectorOpts, err := vectorOptions(cfg.Index)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	var chunkOpts []indexer.ChunkerOption
	if cfg.Chunking.Lookback > 0 {
		chunkOpts = append(chunkOpts, indexer.WithLookback(cfg.Chunking.Lookback))
	}
	chunker := indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap, chunkOpts...)
	h := indexer.Header{
		Dimensions:   embedder.Dimensions(),
		Model:        embedding.ModelName(embedder),
		ChunkSize:    chunker.Size(),
		ChunkOverlap: chunker.Overlap(),
		Lookback:     chunker.Lookback(),
	}
	storage, err := filepath.Abs(cfg.Storage.Root)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	snap, err := indexer.LoadSnapshot(ctx, storage, h, indexer.IndexOptions(cfg.Index.Type, vectorOpts...)...)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	if err := h.Compatible(snap.Manifest.Header); err != nil {
		snap.Release()
		_ = embedder.Close()
		return nil, fmt.Errorf("index was built with different settings: %w", err)
	}
	return &readOnly{snap: snap, embedder: embedder, storage: storage}, nil
}

// Status describes the loaded snapshot the way Manager.Status does.
func (r *readOnly) Status() indexer.Status {
	disk, _ := indexer.DiskUsageBytes(r.storage)
	return indexer.Status{
		State:      indexer.StateReady.String(),
		SnapshotID: r.snap.ID,
		Chunks:     r.snap.Size(),
		Documents:  r.snap.Documents(),
		IndexStats: r.snap.Index.Stats(),
		DiskBytes:  disk,
	}
}

func (r *readOnly) Close() {
	r.snap.Release()
	_ = r.embedder.Close()
}
