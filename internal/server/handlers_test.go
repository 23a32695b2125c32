package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/errs"
	"github.com/hyperjump/shiori/internal/generation"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/retrieval"
	"go.uber.org/zap"
)

type fakeAnswerer struct {
	err   error
	query *models.SearchQuery
}

func (f *fakeAnswerer) Answer(_ context.Context, question string) (*models.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Answer{Question: question, Answer: "42", Sources: []string{"a.txt"}}, nil
}

func (f *fakeAnswerer) Search(_ context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	return &models.SearchResponse{Query: q.Query}, nil
}

type fakeIndex struct {
	paths []string
	err   error
	ctxOK bool
}

func (f *fakeIndex) Build(ctx context.Context) (*indexer.BuildReport, error) {
	f.ctxOK = ctx.Err() == nil
	return &indexer.BuildReport{Kind: "build", Indexed: 2}, f.err
}

func (f *fakeIndex) Update(_ context.Context, paths []string) (*indexer.BuildReport, error) {
	f.paths = paths
	return &indexer.BuildReport{Kind: "update", Indexed: len(paths)}, f.err
}

func (f *fakeIndex) Status() indexer.Status {
	return indexer.Status{State: "READY", Chunks: 7}
}

type fakeWatch struct{ dirs []string }

func (f *fakeWatch) Directories() []string { return f.dirs }

func newTestServer(a Answerer, idx IndexService, watch WatchService) http.Handler {
	return NewServer(a, idx, &config.ServerConfig{Port: 8080}, zap.NewNop(), watch).Router()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	h := newTestServer(&fakeAnswerer{}, &fakeIndex{}, nil)
	w := do(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("response should carry a request id")
	}
}

func TestRequestID_keepsCallerID(t *testing.T) {
	h := newTestServer(&fakeAnswerer{}, &fakeIndex{}, nil)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q", got)
	}
}

func TestHandleAnswer(t *testing.T) {
	h := newTestServer(&fakeAnswerer{}, &fakeIndex{}, nil)
	w := do(t, h, http.MethodPost, "/api/v1/answer", `{"question":"what?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var out models.Answer
	decode(t, w, &out)
	if out.Answer != "42" || out.Question != "what?" {
		t.Errorf("answer: %+v", out)
	}

	w = do(t, h, http.MethodPost, "/api/v1/answer", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body status: got %d", w.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	a := &fakeAnswerer{}
	h := newTestServer(a, &fakeIndex{}, nil)
	w := do(t, h, http.MethodGet, "/api/v1/search?q=volcano&k=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if a.query == nil || a.query.Query != "volcano" || a.query.K != 3 {
		t.Errorf("query passed through: %+v", a.query)
	}

	w = do(t, h, http.MethodGet, "/api/v1/search?q=volcano&k=many", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad k status: got %d", w.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: question cannot be empty", errs.ErrInvalidInput), http.StatusBadRequest},
		{errs.ErrIndexNotReady, http.StatusConflict},
		{fmt.Errorf("search: %w", errs.ErrEmptyCorpus), http.StatusConflict},
		{&errs.ProviderError{Provider: "openai", Op: "chat", StatusCode: 400, Err: errors.New("bad")}, http.StatusBadGateway},
		{fmt.Errorf("%w after 30s", errs.ErrProviderTimeout), http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestServer(&fakeAnswerer{err: tt.err}, &fakeIndex{}, nil)
			w := do(t, h, http.MethodPost, "/api/v1/answer", `{"question":"q"}`)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d", w.Code, tt.want)
			}
			var out map[string]string
			decode(t, w, &out)
			if out["error"] == "" || out["request_id"] == "" {
				t.Errorf("error body: %v", out)
			}
		})
	}
}

func TestHandleBuildAndUpdate(t *testing.T) {
	idx := &fakeIndex{}
	h := newTestServer(&fakeAnswerer{}, idx, nil)

	w := do(t, h, http.MethodPost, "/api/v1/index/build", "")
	if w.Code != http.StatusOK {
		t.Fatalf("build status: got %d", w.Code)
	}
	if !idx.ctxOK {
		t.Error("build should run with a live context")
	}
	var report indexer.BuildReport
	decode(t, w, &report)
	if report.Kind != "build" || report.Indexed != 2 {
		t.Errorf("build report: %+v", report)
	}

	w = do(t, h, http.MethodPost, "/api/v1/index/update", `{"paths":["a.txt","b.txt"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status: got %d", w.Code)
	}
	if len(idx.paths) != 2 || idx.paths[0] != "a.txt" {
		t.Errorf("paths: %v", idx.paths)
	}

	w = do(t, h, http.MethodPost, "/api/v1/index/update", `{"paths":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty paths status: got %d", w.Code)
	}

	idx.err = errs.ErrEmptyCorpus
	w = do(t, h, http.MethodPost, "/api/v1/index/build", "")
	if w.Code != http.StatusConflict {
		t.Errorf("empty corpus build status: got %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	h := newTestServer(&fakeAnswerer{}, &fakeIndex{}, nil)
	w := do(t, h, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var st indexer.Status
	decode(t, w, &st)
	if st.State != "READY" || st.Chunks != 7 {
		t.Errorf("status: %+v", st)
	}
}

func TestHandleWatchDirectoriesList(t *testing.T) {
	h := newTestServer(&fakeAnswerer{}, &fakeIndex{}, nil)
	if w := do(t, h, http.MethodGet, "/api/v1/watch/directories", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("without watcher: got %d", w.Code)
	}

	h = newTestServer(&fakeAnswerer{}, &fakeIndex{}, &fakeWatch{dirs: []string{"/srv/notes"}})
	w := do(t, h, http.MethodGet, "/api/v1/watch/directories", "")
	var out struct {
		Directories []string `json:"directories"`
	}
	decode(t, w, &out)
	if len(out.Directories) != 1 || out.Directories[0] != "/srv/notes" {
		t.Errorf("directories: %v", out.Directories)
	}
}

func TestServer_EndToEnd(t *testing.T) {
	corpus := t.TempDir()
	notes := "Plate tectonics moves continents slowly over millions of years. " +
		"Volcanoes erupt where magma reaches the surface through the crust."
	if err := os.WriteFile(filepath.Join(corpus, "geology.txt"), []byte(notes), 0644); err != nil {
		t.Fatal(err)
	}
	emb := embedding.NewHashEmbedder(128)
	m, err := indexer.NewManager(indexer.Config{
		CorpusRoot:  corpus,
		StorageRoot: t.TempDir(),
		Extensions:  []string{".txt"},
		Recursive:   true,
		ChunkSize:   200,
		IndexType:   "flat",
	}, emb)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	svc := retrieval.NewService(m, emb, generation.NewExtractive(), retrieval.Options{})
	h := newTestServer(svc, m, nil)

	// nothing published yet
	w := do(t, h, http.MethodPost, "/api/v1/answer", `{"question":"where do volcanoes erupt?"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("before build: got %d", w.Code)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/index/build", ""); w.Code != http.StatusOK {
		t.Fatalf("build: got %d %s", w.Code, w.Body.String())
	}

	body, _ := json.Marshal(models.AnswerRequest{Question: "where do volcanoes erupt?"})
	w = do(t, h, http.MethodPost, "/api/v1/answer", string(bytes.TrimSpace(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("answer: got %d %s", w.Code, w.Body.String())
	}
	var out models.Answer
	decode(t, w, &out)
	if len(out.Sources) != 1 || out.Sources[0] != "geology.txt" {
		t.Errorf("sources: %v", out.Sources)
	}
	if !strings.Contains(out.Answer, "Volcanoes erupt") {
		t.Errorf("answer: %q", out.Answer)
	}

	w = do(t, h, http.MethodPost, "/api/v1/answer", `{"question":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty question: got %d", w.Code)
	}
}
