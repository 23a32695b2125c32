package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/generation"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/retrieval"
)

const (
	e2eNotes      = 40
	e2eTopK       = 5
	e2eDimensions = 512
)

type e2eEnv struct {
	corpusDir string
	paths     map[string]string
	corpus    *Corpus
	manager   *indexer.Manager
	service   *retrieval.Service
}

// newEnv writes the notes corpus in rotating formats and builds a flat index
// over it with the hashing embedder and the extractive generator.
func newEnv(t *testing.T) *e2eEnv {
	t.Helper()
	dir := t.TempDir()
	corpusDir := filepath.Join(dir, "notes")
	if err := os.MkdirAll(corpusDir, 0o755); err != nil {
		t.Fatal(err)
	}
	corpus := BuildCorpus(e2eNotes)
	paths, err := WriteCorpus(corpusDir, corpus)
	if err != nil {
		t.Fatalf("write corpus: %v", err)
	}

	embedder := embedding.NewHashEmbedder(e2eDimensions)
	m, err := indexer.NewManager(indexer.Config{
		CorpusRoot:   corpusDir,
		StorageRoot:  filepath.Join(dir, "storage"),
		Extensions:   NoteFormats,
		Recursive:    true,
		ChunkSize:    600,
		ChunkOverlap: 60,
		Workers:      4,
		IndexType:    "flat",
	}, embedder)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	svc := retrieval.NewService(m, embedder, generation.NewExtractive(), retrieval.Options{
		TopK:            e2eTopK,
		MaxContextChars: 4000,
	})
	return &e2eEnv{corpusDir: corpusDir, paths: paths, corpus: corpus, manager: m, service: svc}
}

func sourcesOf(passages []*models.Passage) map[string]bool {
	set := make(map[string]bool, len(passages))
	for _, p := range passages {
		set[p.SourcePath] = true
	}
	return set
}

func TestE2E_SearchFindsExpectedNote(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	report, err := env.manager.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("failed documents: %+v", report.Failed)
	}
	if report.Indexed != e2eNotes {
		t.Fatalf("indexed %d notes, want %d", report.Indexed, e2eNotes)
	}
	st := env.manager.Status()
	if st.State != indexer.StateReady.String() || st.Documents != e2eNotes {
		t.Fatalf("status = %s with %d documents", st.State, st.Documents)
	}

	t.Logf("indexed %d notes in %d chunks; running %d queries", st.Documents, st.Chunks, env.corpus.TotalQueries)
	for _, tc := range env.corpus.TestCases {
		t.Run(tc.Description, func(t *testing.T) {
			resp, err := env.service.Search(ctx, &models.SearchQuery{Query: tc.Query})
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if len(resp.Passages) == 0 || len(resp.Passages) > e2eTopK {
				t.Fatalf("got %d passages", len(resp.Passages))
			}
			want := env.paths[tc.ExpectedNote]
			if !sourcesOf(resp.Passages)[want] {
				t.Errorf("query %q: %s not among sources %v", tc.Query, want, retrieval.Sources(resp.Passages))
			}
			for i := 1; i < len(resp.Passages); i++ {
				if resp.Passages[i].Score > resp.Passages[i-1].Score {
					t.Errorf("passages not ranked: %v after %v", resp.Passages[i].Score, resp.Passages[i-1].Score)
				}
			}
		})
	}
}

func TestE2E_AnswerCitesSources(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	if _, err := env.manager.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}

	tc := env.corpus.TestCases[0]
	answer, err := env.service.Answer(ctx, "What is the "+tc.Query+"?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Answer == "" {
		t.Error("empty answer")
	}
	want := env.paths[tc.ExpectedNote]
	found := false
	for _, s := range answer.Sources {
		if s == want {
			found = true
		}
	}
	if !found {
		t.Errorf("sources %v do not include %s", answer.Sources, want)
	}
}

func TestE2E_UpdateReflectsEdits(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	if _, err := env.manager.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Rewrite one note with new vocabulary and delete another.
	edited := env.paths[env.corpus.Notes[0].Name]
	data, err := EncodeNote(filepath.Ext(edited), "Quasars", "A quasar is an active galactic nucleus. Quasars outshine their host galaxy.")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.corpusDir, filepath.FromSlash(edited)), data, 0o644); err != nil {
		t.Fatal(err)
	}
	removed := env.paths[env.corpus.Notes[1].Name]
	if err := os.Remove(filepath.Join(env.corpusDir, filepath.FromSlash(removed))); err != nil {
		t.Fatal(err)
	}

	report, err := env.manager.Update(ctx, []string{edited, removed})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if report.Indexed != 1 || report.Removed != 1 {
		t.Errorf("report indexed=%d removed=%d, want 1 and 1", report.Indexed, report.Removed)
	}
	if got := env.manager.Status().Documents; got != e2eNotes-1 {
		t.Errorf("documents = %d, want %d", got, e2eNotes-1)
	}

	resp, err := env.service.Search(ctx, &models.SearchQuery{Query: "quasar galactic nucleus", K: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Passages) != 1 || resp.Passages[0].SourcePath != edited {
		t.Errorf("top passage = %v, want %s", retrieval.Sources(resp.Passages), edited)
	}

	resp, err = env.service.Search(ctx, &models.SearchQuery{Query: env.corpus.TestCases[1].Query, K: e2eTopK})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if sourcesOf(resp.Passages)[removed] {
		t.Errorf("deleted note %s still returned", removed)
	}
}

func TestE2E_ReloadFromDisk(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	if _, err := env.manager.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}
	snap, err := env.manager.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	id, size := snap.ID, snap.Size()
	snap.Release()

	if st := env.manager.Status(); st.DiskBytes <= 0 {
		t.Errorf("disk bytes = %d", st.DiskBytes)
	}
	storageRoot := filepath.Join(filepath.Dir(env.corpusDir), "storage")
	loaded, err := indexer.LoadSnapshot(ctx, storageRoot, env.manager.Header())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	defer loaded.Release()
	if loaded.ID != id || loaded.Size() != size {
		t.Errorf("loaded snapshot %s (%d chunks), want %s (%d)", loaded.ID, loaded.Size(), id, size)
	}
}
