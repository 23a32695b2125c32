package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/models"
)

// ManifestVersion is the current manifest format.
const ManifestVersion = 1

// Header records the settings an index was built with. Any difference from the
// running configuration makes the index unusable and forces a full build.
type Header struct {
	Dimensions   int    `json:"dimensions"`
	Model        string `json:"model"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	Lookback     int    `json:"lookback"`
}

// Compatible returns an error naming the first setting that differs.
func (h Header) Compatible(other Header) error {
	switch {
	case h.Dimensions != other.Dimensions:
		return &errs.DimensionMismatchError{Expected: h.Dimensions, Actual: other.Dimensions}
	case h.Model != other.Model:
		return fmt.Errorf("embedding model changed from %q to %q", other.Model, h.Model)
	case h.ChunkSize != other.ChunkSize || h.ChunkOverlap != other.ChunkOverlap:
		return fmt.Errorf("chunking changed from %d/%d to %d/%d",
			other.ChunkSize, other.ChunkOverlap, h.ChunkSize, h.ChunkOverlap)
	case h.Lookback != other.Lookback:
		return fmt.Errorf("chunk boundary lookback changed from %d to %d", other.Lookback, h.Lookback)
	}
	return nil
}

// FileEntry is what the manifest knows about one source file. ModTime is in
// Unix nanoseconds.
type FileEntry struct {
	ModTime     int64    `json:"mod_time"`
	Size        int64    `json:"size"`
	ContentHash string   `json:"content_hash"`
	ChunkIDs    []string `json:"chunk_ids"`
}

// Manifest maps corpus-relative source paths to their indexed state.
type Manifest struct {
	Version int                   `json:"version"`
	Header  Header                `json:"header"`
	Files   map[string]*FileEntry `json:"files"`
}

// NewManifest returns an empty manifest.
func NewManifest(h Header) *Manifest {
	return &Manifest{Version: ManifestVersion, Header: h, Files: make(map[string]*FileEntry)}
}

// Paths returns the source paths in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ChunkCount returns the number of chunk ids across all files.
func (m *Manifest) ChunkCount() int {
	n := 0
	for _, e := range m.Files {
		n += len(e.ChunkIDs)
	}
	return n
}

// Clone returns a deep copy. Chunk id slices are shared since entries are
// replaced, never edited.
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{Version: m.Version, Header: m.Header, Files: make(map[string]*FileEntry, len(m.Files))}
	for p, e := range m.Files {
		cp := *e
		c.Files[p] = &cp
	}
	return c
}

// Stale returns the paths whose files were added, removed or changed on disk
// since the manifest was written. Files whose size and mtime match are assumed
// unchanged without reading them.
func (m *Manifest) Stale(files []corpusFile) []string {
	var out []string
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.Rel] = true
		e, ok := m.Files[f.Rel]
		if !ok || e.ModTime != f.ModTime || e.Size != f.Size {
			out = append(out, f.Rel)
		}
	}
	for p := range m.Files {
		if !seen[p] {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// manifestFromRecords rebuilds a manifest from docstore records when only the
// index and docstore are available. File stats are unknown, so every file is
// re-checked by content on the next staleness pass.
func manifestFromRecords(h Header, bySource map[string][]*models.Record) *Manifest {
	m := NewManifest(h)
	for src, recs := range bySource {
		e := &FileEntry{Size: -1}
		for _, r := range recs {
			e.ChunkIDs = append(e.ChunkIDs, r.ChunkID)
		}
		m.Files[src] = e
	}
	return m
}

// Save writes the manifest atomically.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return writeFileAtomic(path, data)
}

// ReadManifest loads a manifest. Undecodable or future-version files fail with
// *errs.CorruptIndexError; a missing file returns the os error.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Corrupt(path, "decode manifest", err)
	}
	if m.Version != ManifestVersion {
		return nil, errs.Corrupt(path, fmt.Sprintf("unsupported manifest version %d", m.Version), nil)
	}
	if m.Files == nil {
		m.Files = make(map[string]*FileEntry)
	}
	for p, e := range m.Files {
		if e == nil {
			return nil, errs.Corrupt(path, fmt.Sprintf("empty entry for %s", p), nil)
		}
	}
	return &m, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
