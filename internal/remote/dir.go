package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/shiori/internal/errs"
)

// DirStore keeps snapshot files in a directory, typically a shared mount.
type DirStore struct {
	root   string
	prefix string
}

// NewDir creates a store under root.
func NewDir(root, prefix string) *DirStore {
	return &DirStore{root: root, prefix: prefix}
}

func (s *DirStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(objectKey(s.prefix, name)))
}

// Fetch copies name into w.
func (s *DirStore) Fetch(ctx context.Context, name string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("remote file %s: %w", name, errs.ErrNotFound)
		}
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// Put writes r to name through a temporary file and rename.
func (s *DirStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := s.path(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, r)
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("remote file %s: wrote %d bytes, expected %d", name, n, size)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
