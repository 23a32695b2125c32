package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/shiori/internal/docstore"
	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/vector"
)

// Snapshot file names inside a snapshot directory. The remote store uses the
// same names under its prefix.
const (
	IndexFile    = "index.shv"
	DocstoreFile = "docstore.db"
	ManifestFile = "manifest.json"

	currentFile  = "CURRENT"
	lockFileName = "LOCK"
	snapshotsDir = "snapshots"
)

// ErrNoSnapshot is returned when the storage root has no published snapshot.
var ErrNoSnapshot = errors.New("no snapshot")

// ErrLocked is returned when another process holds the storage root.
var ErrLocked = errors.New("storage root is locked by another process")

// diskStore lays snapshots out under root:
//
//	root/CURRENT              name of the published snapshot
//	root/LOCK                 writer lock
//	root/snapshots/<id>/...   index.shv, docstore.db, manifest.json
type diskStore struct {
	root string
}

func (d *diskStore) dir(id string) string {
	return filepath.Join(d.root, snapshotsDir, id)
}

// current returns the published snapshot id.
func (d *diskStore) current() (string, error) {
	data, err := os.ReadFile(filepath.Join(d.root, currentFile))
	if os.IsNotExist(err) {
		return "", ErrNoSnapshot
	}
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", errs.Corrupt(filepath.Join(d.root, currentFile), "invalid snapshot name", nil)
	}
	return id, nil
}

// setCurrent publishes id. The rename is the commit point.
func (d *diskStore) setCurrent(id string) error {
	return writeFileAtomic(filepath.Join(d.root, currentFile), []byte(id+"\n"))
}

func (d *diskStore) write(ctx context.Context, s *Snapshot) error {
	dir := d.dir(s.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := s.Index.Save(filepath.Join(dir, IndexFile)); err != nil {
		return fmt.Errorf("failed to save vector index: %w", err)
	}
	if err := s.Docs.Save(ctx, filepath.Join(dir, DocstoreFile)); err != nil {
		return fmt.Errorf("failed to save docstore: %w", err)
	}
	if err := s.Manifest.Save(filepath.Join(dir, ManifestFile)); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

// read loads snapshot id. A missing manifest is rebuilt from the docstore.
func (d *diskStore) read(ctx context.Context, id string, h Header, opts ...vector.Option) (*Snapshot, error) {
	dir := d.dir(id)
	idx, err := vector.ReadFile(filepath.Join(dir, IndexFile), h.Dimensions, opts...)
	if os.IsNotExist(err) {
		return nil, errs.Corrupt(dir, "snapshot has no vector index", err)
	}
	if err != nil {
		return nil, err
	}
	docs, err := docstore.ReadFile(ctx, filepath.Join(dir, DocstoreFile))
	if os.IsNotExist(err) {
		return nil, errs.Corrupt(dir, "snapshot has no docstore", err)
	}
	if err != nil {
		return nil, err
	}
	if err := checkConsistent(dir, idx, docs); err != nil {
		return nil, err
	}
	man, err := ReadManifest(filepath.Join(dir, ManifestFile))
	if os.IsNotExist(err) {
		man = manifestFromRecords(h, docs.BySource())
	} else if err != nil {
		return nil, err
	}
	return newSnapshot(id, idx, docs, man), nil
}

// checkConsistent verifies that every indexed chunk has a docstore record and
// vice versa.
func checkConsistent(dir string, idx *vector.MemoryIndex, docs *docstore.Store) error {
	if idx.Size() != docs.Len() {
		return errs.Corrupt(dir, fmt.Sprintf("index has %d entries, docstore %d", idx.Size(), docs.Len()), nil)
	}
	for _, id := range idx.IDs() {
		if _, err := docs.Get(id); err != nil {
			return errs.Corrupt(dir, "index entry without docstore record", err)
		}
	}
	return nil
}

// cleanup removes every snapshot directory except keep.
func (d *diskStore) cleanup(keep string) error {
	entries, err := os.ReadDir(filepath.Join(d.root, snapshotsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var firstErr error
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(d.root, snapshotsDir, e.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LoadSnapshot reads the published snapshot under root without taking the
// writer lock. It is meant for read-only processes.
func LoadSnapshot(ctx context.Context, root string, h Header, opts ...vector.Option) (*Snapshot, error) {
	d := &diskStore{root: root}
	id, err := d.current()
	if err != nil {
		return nil, err
	}
	return d.read(ctx, id, h, opts...)
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.Walk(p, func(_ string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if !info.IsDir() {
				total += info.Size()
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
