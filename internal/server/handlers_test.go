package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/notebook"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/syncer"
	"github.com/hyperjump/kioku/internal/vector"
)

type testServer struct {
	root    string
	handler http.Handler
	svc     *syncer.Service
	hash    *embedding.HashPlugin
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "notebook")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	kw, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kw.Close() })
	vec, _ := vector.NewMemoryIndex(0)

	registry := embedding.NewRegistry(store)
	hash := embedding.NewHashPlugin(32)
	if err := registry.Register(hash); err != nil {
		t.Fatal(err)
	}
	if err := registry.SetActive(context.Background(), embedding.HashPluginID); err != nil {
		t.Fatal(err)
	}

	m := metrics.NewMetrics()
	ix := indexer.NewIndexer(root, cfg.Notebook.Extensions, indexer.NewChunker(0, 0), extract.NewExtractor())
	svc := syncer.NewService(ix, store, kw, vec, registry, syncer.WithObserver(m))
	engine := search.NewEngine(store, registry, vec, kw, &cfg.Search, cfg.Notebook.DailyFolder,
		search.WithObserver(m.RecallCompleted))
	nb := notebook.New(root, cfg.Notebook.DailyFolder, svc)

	srv := NewServer(engine, svc, nb, registry, &cfg.Server, zap.NewNop(), WithMetrics(m.Handler()))
	return &testServer{root: root, handler: srv.Router(), svc: svc, hash: hash}
}

func (ts *testServer) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestWriteSyncRecall(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/v1/notebook", map[string]string{
		"path":    "reference/contacts.md",
		"content": "John Smith - Engineering Lead - john@example.com\n",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("write status: got %d body %s", w.Code, w.Body.String())
	}
	var wr notebook.WriteResult
	decode(t, w, &wr)
	if wr.Sync == nil || wr.Sync.Added != 1 {
		t.Errorf("write sync result: %+v", wr.Sync)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/recall?q=Engineering&min_score=0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recall status: got %d body %s", w.Code, w.Body.String())
	}
	var resp models.RecallResponse
	decode(t, w, &resp)
	if resp.Total == 0 || !strings.Contains(resp.Groups[0].Results[0].Snippet, "Engineering") {
		t.Errorf("unexpected recall response: %+v", resp)
	}
	if resp.Mode != models.ModeHybrid {
		t.Errorf("mode: got %s", resp.Mode)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync status: got %d", w.Code)
	}
	var res models.SyncResult
	decode(t, w, &res)
	if res.Skipped != 1 {
		t.Errorf("expected the unchanged file to be skipped: %+v", res)
	}
}

func TestRecallValidation(t *testing.T) {
	ts := newTestServer(t)
	for _, target := range []string{
		"/api/v1/recall?q=",
		"/api/v1/recall?q=x&limit=abc",
		"/api/v1/recall?q=x&min_score=-1",
	} {
		w := ts.do(t, http.MethodGet, target, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d", target, w.Code)
		}
	}
}

func TestNotebookReadAndSections(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPut, "/api/v1/notebook", map[string]string{
		"path": "p.md", "mode": "append", "heading": "Tasks", "content": "- write tests",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("append status: got %d body %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodPut, "/api/v1/notebook", map[string]string{
		"path": "p.md", "mode": "replace", "heading": "Tasks", "content": "- ship it",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("replace status: got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/notebook?path=p.md&from=3&to=3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read status: got %d", w.Code)
	}
	var ex notebook.Excerpt
	decode(t, w, &ex)
	if ex.Content != "- ship it" || ex.TotalLines != 3 {
		t.Errorf("unexpected excerpt: %+v", ex)
	}

	cases := []struct {
		method string
		target string
		body   interface{}
		want   int
	}{
		{http.MethodGet, "/api/v1/notebook?path=../etc/passwd", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/notebook?path=missing.md", nil, http.StatusNotFound},
		{http.MethodGet, "/api/v1/notebook?path=p.md&from=x", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/notebook?path=p.md&from=10", nil, http.StatusBadRequest},
		{http.MethodPut, "/api/v1/notebook", map[string]string{"path": "p.md", "mode": "bogus"}, http.StatusBadRequest},
		{http.MethodPut, "/api/v1/notebook", map[string]string{"path": "/abs.md", "content": "x"}, http.StatusBadRequest},
	}
	for _, c := range cases {
		w := ts.do(t, c.method, c.target, c.body)
		if w.Code != c.want {
			t.Errorf("%s %s: got %d want %d (%s)", c.method, c.target, w.Code, c.want, w.Body.String())
		}
	}
}

func TestDailyLogAndFiles(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/daily", map[string]string{"text": "standup notes"})
	if w.Code != http.StatusCreated {
		t.Fatalf("daily status: got %d body %s", w.Code, w.Body.String())
	}
	var wr notebook.WriteResult
	decode(t, w, &wr)
	if !strings.HasPrefix(wr.Path, "daily/") {
		t.Errorf("daily path: %s", wr.Path)
	}

	ts.hash.SetReady(false)
	w = ts.do(t, http.MethodPut, "/api/v1/notebook", map[string]string{"path": "partial.md", "content": "no vectors"})
	if w.Code != http.StatusOK {
		t.Fatalf("write status: got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/files", nil)
	var all struct {
		Files []*models.FileRecord `json:"files"`
		Total int                  `json:"total"`
	}
	decode(t, w, &all)
	if all.Total != 2 {
		t.Errorf("files total: got %d", all.Total)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/files?partial=true", nil)
	var partial struct {
		Files []*models.FileRecord `json:"files"`
	}
	decode(t, w, &partial)
	if len(partial.Files) != 1 || partial.Files[0].Path != "partial.md" {
		t.Errorf("partial files: %+v", partial.Files)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/status", nil)
	var st models.Status
	decode(t, w, &st)
	if st.Files != 2 || st.PartialFiles != 1 || st.ActivePlugin != embedding.HashPluginID {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestPlugins(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/plugins", nil)
	var out struct {
		Plugins []models.PluginInfo `json:"plugins"`
	}
	decode(t, w, &out)
	if len(out.Plugins) != 1 || !out.Plugins[0].Active || !out.Plugins[0].Ready {
		t.Errorf("unexpected plugins: %+v", out.Plugins)
	}

	w = ts.do(t, http.MethodPut, "/api/v1/plugins/active", map[string]string{"id": "nope"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown plugin: got %d", w.Code)
	}
	w = ts.do(t, http.MethodPut, "/api/v1/plugins/active", map[string]string{"id": ""})
	if w.Code != http.StatusOK {
		t.Fatalf("deactivate: got %d body %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/api/v1/status", nil)
	var st models.Status
	decode(t, w, &st)
	if st.ActivePlugin != "" {
		t.Errorf("active plugin after deactivate: %q", st.ActivePlugin)
	}
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPut, "/api/v1/notebook", map[string]string{"path": "a.md", "content": "alpha"})
	ts.do(t, http.MethodGet, "/api/v1/recall?q=alpha", nil)

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status: got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`kioku_sync_files_total{outcome="added"} 1`, "kioku_recall_duration_seconds"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrEmptyQuery, http.StatusBadRequest},
		{models.ErrInvalidPath, http.StatusBadRequest},
		{models.ErrPluginNotFound, http.StatusNotFound},
		{os.ErrNotExist, http.StatusNotFound},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
