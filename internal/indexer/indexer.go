package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/fileid"
	"github.com/hyperjump/shiori/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Loader turns a file into raw text. *extract.Extractor implements it.
type Loader interface {
	Extract(path string) (string, error)
}

// corpusFile is an eligible regular file under the corpus root.
type corpusFile struct {
	Rel     string
	Abs     string
	ModTime int64
	Size    int64
}

// scan walks the corpus root and returns every eligible file sorted by
// relative path.
func (m *Manager) scan() ([]corpusFile, error) {
	root := m.cfg.CorpusRoot
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}
	var files []corpusFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			m.logDebug("skipping unreadable path", zap.String("path", path), zap.Error(walkErr))
			return nil
		}
		if d.IsDir() {
			if path != root && !m.cfg.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		f, ok := m.eligible(path)
		if ok {
			files = append(files, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

// eligible stats path and reports whether it belongs in the corpus: a regular
// file (symlinks resolved) under the root with an allowed extension.
func (m *Manager) eligible(path string) (corpusFile, bool) {
	if !inCorpus(m.cfg.CorpusRoot, path) {
		return corpusFile{}, false
	}
	if !extensionAllowed(filepath.Ext(path), m.cfg.Extensions) {
		return corpusFile{}, false
	}
	rel := fileid.RelPath(m.cfg.CorpusRoot, path)
	if !m.cfg.Recursive && strings.Contains(rel, "/") {
		return corpusFile{}, false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return corpusFile{}, false
	}
	return corpusFile{
		Rel:     rel,
		Abs:     path,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
	}, true
}

// resolve maps a caller-supplied path (absolute, or relative to the corpus
// root) to its corpus-relative form and absolute location.
func (m *Manager) resolve(p string) (rel, abs string) {
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(m.cfg.CorpusRoot, filepath.FromSlash(p))
	}
	return fileid.RelPath(m.cfg.CorpusRoot, abs), abs
}

func inCorpus(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// ingested is the outcome of loading, chunking and embedding one file.
type ingested struct {
	file      corpusFile
	hash      string
	chunks    []*models.Chunk
	unchanged bool // content hash matches the previous entry
	embedded  int
	err       error
}

func (r *ingested) entry() *FileEntry {
	ids := make([]string, len(r.chunks))
	for i, ch := range r.chunks {
		ids[i] = ch.ID
	}
	return &FileEntry{ModTime: r.file.ModTime, Size: r.file.Size, ContentHash: r.hash, ChunkIDs: ids}
}

// ingest processes one file. prev is the file's current manifest entry, if any;
// present reports chunk ids that are already indexed and need no embedding.
func (m *Manager) ingest(ctx context.Context, f corpusFile, prev *FileEntry, present func(string) bool) *ingested {
	r := &ingested{file: f}
	hash, err := fileid.FileHash(f.Abs)
	if err != nil {
		r.err = fmt.Errorf("hash file: %w", err)
		return r
	}
	r.hash = hash
	if prev != nil && prev.ContentHash == hash {
		r.unchanged = true
		return r
	}

	text, err := m.loader.Extract(f.Abs)
	if err != nil {
		r.err = fmt.Errorf("extract content: %w", err)
		return r
	}
	r.chunks = m.chunker.Split(Preprocess(text), f.Rel)

	var missing []*models.Chunk
	for _, ch := range r.chunks {
		if present == nil || !present(ch.ID) {
			missing = append(missing, ch)
		}
	}
	if len(missing) == 0 {
		return r
	}
	texts := make([]string, len(missing))
	for i, ch := range missing {
		texts[i] = ch.Text
	}
	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		r.err = fmt.Errorf("failed to generate embeddings: %w", err)
		return r
	}
	for i, ch := range missing {
		ch.Vector = vecs[i]
	}
	r.embedded = len(missing)
	return r
}

// ingestAll runs ingest over files with at most Workers in flight. Results are
// positional. Per-file failures are reported in the results; cancellation and
// configuration errors abort the whole run.
func (m *Manager) ingestAll(ctx context.Context, files []corpusFile, prev func(string) *FileEntry, present func(string) bool) ([]*ingested, error) {
	results := make([]*ingested, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for i, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var p *FileEntry
			if prev != nil {
				p = prev(f.Rel)
			}
			r := m.ingest(gctx, f, p, present)
			if r.err != nil {
				if errors.Is(r.err, errs.ErrDimensionMismatch) {
					return r.err
				}
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
