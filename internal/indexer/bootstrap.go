package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hyperjump/shiori/internal/errs"
	"go.uber.org/zap"
)

// bootstrapLocked downloads a snapshot from the remote store into a new local
// snapshot directory and publishes it on disk. The manifest is optional.
func (m *Manager) bootstrapLocked(ctx context.Context) (*Snapshot, error) {
	id := uuid.New().String()
	dir := m.store.dir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	for _, name := range []string{IndexFile, DocstoreFile} {
		if err := fetchFile(ctx, m.remote, name, filepath.Join(dir, name)); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
		}
	}
	err := fetchFile(ctx, m.remote, ManifestFile, filepath.Join(dir, ManifestFile))
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		cleanup()
		return nil, fmt.Errorf("failed to fetch %s: %w", ManifestFile, err)
	}
	manifestMissing := err != nil

	snap, err := m.store.read(ctx, id, m.Header(), m.indexOptions()...)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := m.Header().Compatible(snap.Manifest.Header); err != nil {
		cleanup()
		return nil, fmt.Errorf("remote index built with different settings: %w", err)
	}
	if manifestMissing {
		if err := snap.Manifest.Save(filepath.Join(dir, ManifestFile)); err != nil {
			cleanup()
			return nil, err
		}
	}
	if err := m.store.setCurrent(id); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to publish snapshot: %w", err)
	}
	m.logInfo("index bootstrapped from remote",
		zap.String("snapshot", id),
		zap.Int("chunks", snap.Size()),
		zap.Bool("manifest_reconstructed", manifestMissing))
	return snap, nil
}

func fetchFile(ctx context.Context, r RemoteStore, name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Fetch(ctx, name, f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func putFile(ctx context.Context, r RemoteStore, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return r.Put(ctx, name, f, info.Size())
}
