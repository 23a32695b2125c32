// Package integration runs the indexer against a remote store shared by two
// storage roots, the way a build host and a serving host would share one.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/generation"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/remote"
	"github.com/hyperjump/shiori/internal/retrieval"
)

const dims = 128

func writeNotes(t *testing.T, dir string) {
	t.Helper()
	notes := map[string]string{
		"ml/intro.md":     "# Machine learning\n\nMachine learning algorithms learn patterns from training data.",
		"ir/semantic.txt": "Semantic search uses embeddings to find passages with similar meaning.",
		"ir/inverted.txt": "An inverted index maps each term to the documents that contain it.",
		"stats/bayes.rst": "Bayes theorem updates a prior belief with the likelihood of new evidence.",
	}
	for rel, text := range notes {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(text), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newManager(t *testing.T, corpus, storage string, store indexer.RemoteStore, e embedding.Embedder) *indexer.Manager {
	t.Helper()
	m, err := indexer.NewManager(indexer.Config{
		CorpusRoot:   corpus,
		StorageRoot:  storage,
		Extensions:   []string{".md", ".txt", ".rst"},
		Recursive:    true,
		ChunkSize:    400,
		ChunkOverlap: 40,
		IndexType:    "flat",
	}, e, indexer.WithRemote(store))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestIntegration_PublishThenBootstrap(t *testing.T) {
	dir := t.TempDir()
	corpus := filepath.Join(dir, "notes")
	writeNotes(t, corpus)
	store := remote.NewDir(filepath.Join(dir, "remote"), "class-notes")
	e := embedding.NewHashEmbedder(dims)
	ctx := context.Background()

	builder := newManager(t, corpus, filepath.Join(dir, "build"), store, e)
	if _, err := builder.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := builder.Publish(ctx); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, name := range []string{indexer.IndexFile, indexer.DocstoreFile, indexer.ManifestFile} {
		if _, err := os.Stat(filepath.Join(dir, "remote", "class-notes", name)); err != nil {
			t.Errorf("remote %s: %v", name, err)
		}
	}

	server := newManager(t, corpus, filepath.Join(dir, "serve"), store, e)
	report, err := server.LoadOrBuild(ctx)
	if err != nil {
		t.Fatalf("LoadOrBuild: %v", err)
	}
	if report.Embedded != 0 {
		t.Errorf("bootstrap embedded %d chunks, want 0", report.Embedded)
	}
	if got := server.Status().Documents; got != 4 {
		t.Errorf("documents = %d, want 4", got)
	}

	svc := retrieval.NewService(server, e, generation.NewExtractive(), retrieval.Options{TopK: 2, MaxContextChars: 2000})
	answer, err := svc.Answer(ctx, "how do machine learning algorithms learn from data?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(answer.Sources) == 0 || answer.Sources[0] != "ml/intro.md" {
		t.Errorf("sources = %v, want ml/intro.md first", answer.Sources)
	}
}

func TestIntegration_BootstrapRejectsOtherSettings(t *testing.T) {
	dir := t.TempDir()
	corpus := filepath.Join(dir, "notes")
	writeNotes(t, corpus)
	store := remote.NewDir(filepath.Join(dir, "remote"), "")
	ctx := context.Background()

	builder := newManager(t, corpus, filepath.Join(dir, "build"), store, embedding.NewHashEmbedder(dims))
	if _, err := builder.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := builder.Publish(ctx); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// A host with a different embedding width cannot use the published index
	// and falls back to a local build.
	other := newManager(t, corpus, filepath.Join(dir, "serve"), store, embedding.NewHashEmbedder(dims*2))
	report, err := other.LoadOrBuild(ctx)
	if err != nil {
		t.Fatalf("LoadOrBuild: %v", err)
	}
	if report.Kind == "load" || report.Indexed != 4 {
		t.Errorf("report = %+v, want a local build of 4 notes", report)
	}
}
