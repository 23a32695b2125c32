package docstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, src string, start int, text string) *models.Record {
	return &models.Record{ChunkID: id, SourcePath: src, Start: start, End: start + len(text), Text: text}
}

func TestStore_PutGetDelete(t *testing.T) {
	s := New()
	s.Put("a", rec("a", "notes/a.md", 0, "alpha"))
	s.Put("b", rec("b", "notes/b.md", 0, "beta"))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Text)
	assert.Equal(t, 2, s.Len())

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))

	_, err = s.Get("a")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, []string{"b"}, s.IDs())
}

func TestStore_BySource(t *testing.T) {
	s := New()
	s.Put("x2", rec("x2", "x.txt", 800, "second"))
	s.Put("x1", rec("x1", "x.txt", 0, "first"))
	s.Put("y1", rec("y1", "y.txt", 0, "other"))

	groups := s.BySource()
	require.Len(t, groups, 2)
	require.Len(t, groups["x.txt"], 2)
	assert.Equal(t, "x1", groups["x.txt"][0].ChunkID)
	assert.Equal(t, "x2", groups["x.txt"][1].ChunkID)
}

func TestStore_CloneIsIndependent(t *testing.T) {
	s := New()
	s.Put("a", rec("a", "a.txt", 0, "alpha"))
	c := s.Clone()
	c.Delete("a")
	c.Put("b", rec("b", "b.txt", 0, "beta"))

	assert.Equal(t, []string{"a"}, s.IDs())
	assert.Equal(t, []string{"b"}, c.IDs())
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snap", "docstore.db")

	s := New()
	s.Put("a", rec("a", "notes/a.md", 0, "alpha ünïcode"))
	s.Put("b", rec("b", "notes/a.md", 800, "beta"))
	require.NoError(t, s.Save(ctx, path))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary database must be renamed away")

	loaded := New()
	require.NoError(t, loaded.Load(ctx, path))
	assert.Equal(t, s.IDs(), loaded.IDs())
	got, err := loaded.Get("a")
	require.NoError(t, err)
	assert.Equal(t, *rec("a", "notes/a.md", 0, "alpha ünïcode"), *got)

	// saving over an existing file replaces it
	s.Delete("b")
	require.NoError(t, s.Save(ctx, path))
	again, err := ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.IDs())
}

func TestStore_SaveLoadURICharactersInPath(t *testing.T) {
	ctx := context.Background()
	for _, dir := range []string{"notes#1", "what?", "50%off", "a b", "plain"} {
		t.Run(dir, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), dir, "docstore.db")
			s := New()
			s.Put("a", rec("a", "notes/a.md", 0, "alpha"))
			require.NoError(t, s.Save(ctx, path))

			_, err := os.Stat(path)
			require.NoError(t, err, "database must be written at the exact path")

			loaded, err := ReadFile(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, loaded.IDs())
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadFile_Corrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.db")
	require.NoError(t, os.WriteFile(garbage, []byte("this is not a sqlite database, not even close"), 0644))

	foreign := filepath.Join(dir, "foreign.db")
	db, err := sql.Open("sqlite3", foreign)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE documents (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	future := filepath.Join(dir, "future.db")
	require.NoError(t, New().Save(ctx, future))
	db, err = sql.Open("sqlite3", future)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE meta SET value = '99' WHERE key = 'format_version'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	for name, path := range map[string]string{"garbage": garbage, "foreign": foreign, "future": future} {
		t.Run(name, func(t *testing.T) {
			s := New()
			s.Put("keep", rec("keep", "k.txt", 0, "kept"))
			err := s.Load(ctx, path)
			assert.ErrorIs(t, err, errs.ErrCorruptIndex)
			assert.Equal(t, 1, s.Len(), "failed load must not touch contents")
		})
	}
}
