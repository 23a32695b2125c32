// Package docstore keeps the text and location of every indexed chunk, keyed by
// chunk id, and persists it as a SQLite database.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/models"
)

// FormatVersion is written to the meta table and checked on load.
const FormatVersion = 1

// Store holds docstore records in memory. Records are immutable once stored, so
// clones share them.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.Record
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]*models.Record)}
}

// Put stores rec under id, replacing any previous record.
func (s *Store) Put(id string, rec *models.Record) {
	s.mu.Lock()
	s.records[id] = rec
	s.mu.Unlock()
}

// Get returns the record for id or errs.ErrNotFound.
func (s *Store) Get(id string) (*models.Record, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, errs.ErrNotFound)
	}
	return rec, nil
}

// Delete removes id. It reports whether a record was present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	delete(s.records, id)
	return ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// IDs returns every chunk id in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// BySource groups records by source path, each group ordered by start offset.
func (s *Store) BySource() map[string][]*models.Record {
	s.mu.RLock()
	out := make(map[string][]*models.Record)
	for _, rec := range s.records {
		out[rec.SourcePath] = append(out[rec.SourcePath], rec)
	}
	s.mu.RUnlock()
	for _, recs := range out {
		sort.Slice(recs, func(i, j int) bool {
			if recs[i].Start != recs[j].Start {
				return recs[i].Start < recs[j].Start
			}
			return recs[i].ChunkID < recs[j].ChunkID
		})
	}
	return out
}

// Clone returns an independent store holding the same records.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := &Store{records: make(map[string]*models.Record, len(s.records))}
	for id, rec := range s.records {
		c.records[id] = rec
	}
	return c
}

func initSchema(ctx context.Context, tx *sql.Tx) error {
	schema := `
	CREATE TABLE meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE records (
		chunk_id TEXT PRIMARY KEY,
		source_path TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		text TEXT NOT NULL
	);

	CREATE INDEX idx_records_source ON records(source_path, start_offset);
	`
	_, err := tx.ExecContext(ctx, schema)
	return err
}

// Save writes every record to a fresh SQLite database at path. The database is
// built next to path and renamed over it once committed.
func (s *Store) Save(ctx context.Context, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create docstore directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := s.writeDB(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename docstore: %w", err)
	}
	return nil
}

// dsn addresses path as a SQLite file URI so that '?' and '#' in directory
// names stay part of the path.
func dsn(path, query string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: query}
	return u.String(), nil
}

func (s *Store) writeDB(ctx context.Context, path string) error {
	name, err := dsn(path, "")
	if err != nil {
		return fmt.Errorf("failed to resolve database path: %w", err)
	}
	db, err := sql.Open("sqlite3", name)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := initSchema(ctx, tx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('format_version', ?)`,
		strconv.Itoa(FormatVersion)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (chunk_id, source_path, start_offset, end_offset, text)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, rec := range s.records {
		if _, err := stmt.ExecContext(ctx, id, rec.SourcePath, rec.Start, rec.End, rec.Text); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Load replaces the contents of s with the database at path. A missing file
// returns the os error; a database without the expected schema or version fails
// with *errs.CorruptIndexError.
func (s *Store) Load(ctx context.Context, path string) error {
	records, err := ReadFile(ctx, path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records = records.records
	s.mu.Unlock()
	return nil
}

// ReadFile opens the database at path read-only and returns its records.
func ReadFile(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	name, err := dsn(path, "mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	db, err := sql.Open("sqlite3", name)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var version string
	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'format_version'`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Corrupt(path, "missing format version", nil)
	}
	if err != nil {
		return nil, errs.Corrupt(path, "read meta", err)
	}
	if version != strconv.Itoa(FormatVersion) {
		return nil, errs.Corrupt(path, fmt.Sprintf("unsupported docstore version %s", version), nil)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT chunk_id, source_path, start_offset, end_offset, text FROM records`)
	if err != nil {
		return nil, errs.Corrupt(path, "read records", err)
	}
	defer rows.Close()

	out := New()
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.ChunkID, &rec.SourcePath, &rec.Start, &rec.End, &rec.Text); err != nil {
			return nil, errs.Corrupt(path, "scan record", err)
		}
		out.records[rec.ChunkID] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Corrupt(path, "read records", err)
	}
	return out, nil
}
