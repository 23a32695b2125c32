package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_SaveRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m := NewManifest(Header{Dimensions: 4, Model: "hash", ChunkSize: 1000, ChunkOverlap: 200})
	m.Files["a.txt"] = &FileEntry{ModTime: 1700000000123456789, Size: 10, ContentHash: "abc", ChunkIDs: []string{"x", "y"}}
	require.NoError(t, m.Save(path))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, 2, got.ChunkCount())
}

func TestReadManifest_Corrupt(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"json":    `{"version": 1, "files": [`,
		"version": `{"version": 7, "files": {}}`,
		"entry":   `{"version": 1, "files": {"a.txt": null}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := ReadManifest(path)
			assert.ErrorIs(t, err, errs.ErrCorruptIndex)
		})
	}
}

func TestManifest_Stale(t *testing.T) {
	m := NewManifest(Header{})
	m.Files["same.txt"] = &FileEntry{ModTime: 1, Size: 5}
	m.Files["touched.txt"] = &FileEntry{ModTime: 1, Size: 5}
	m.Files["gone.txt"] = &FileEntry{ModTime: 1, Size: 5}

	stale := m.Stale([]corpusFile{
		{Rel: "same.txt", ModTime: 1, Size: 5},
		{Rel: "touched.txt", ModTime: 2, Size: 5},
		{Rel: "new.txt", ModTime: 1, Size: 1},
	})
	assert.Equal(t, []string{"gone.txt", "new.txt", "touched.txt"}, stale)
}

func TestManifest_CloneIsIndependent(t *testing.T) {
	m := NewManifest(Header{})
	m.Files["a.txt"] = &FileEntry{ModTime: 1}
	c := m.Clone()
	c.Files["a.txt"].ModTime = 2
	delete(c.Files, "a.txt")
	assert.Equal(t, int64(1), m.Files["a.txt"].ModTime)
}

func TestHeader_Compatible(t *testing.T) {
	h := Header{Dimensions: 4, Model: "m", ChunkSize: 1000, ChunkOverlap: 200}
	assert.NoError(t, h.Compatible(h))

	err := h.Compatible(Header{Dimensions: 8, Model: "m", ChunkSize: 1000, ChunkOverlap: 200})
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
	assert.Error(t, h.Compatible(Header{Dimensions: 4, Model: "other", ChunkSize: 1000, ChunkOverlap: 200}))
	assert.Error(t, h.Compatible(Header{Dimensions: 4, Model: "m", ChunkSize: 500, ChunkOverlap: 200}))
	assert.Error(t, h.Compatible(Header{Dimensions: 4, Model: "m", ChunkSize: 1000, ChunkOverlap: 200, Lookback: 5}))
}

func TestManifestFromRecords(t *testing.T) {
	m := manifestFromRecords(Header{Dimensions: 4}, map[string][]*models.Record{
		"a.txt": {{ChunkID: "1", SourcePath: "a.txt"}, {ChunkID: "2", SourcePath: "a.txt", Start: 800}},
	})
	require.Contains(t, m.Files, "a.txt")
	assert.Equal(t, []string{"1", "2"}, m.Files["a.txt"].ChunkIDs)
	assert.Equal(t, int64(-1), m.Files["a.txt"].Size)
}
