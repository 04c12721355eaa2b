package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hyperjump/kioku/internal/models"
)

func TestObserverMethods(t *testing.T) {
	m := NewMetrics()
	m.FileSynced("added")
	m.FileSynced("added")
	m.FileSynced("skipped")
	m.SyncCompleted(250 * time.Millisecond)
	m.RecallCompleted(models.ModeHybrid, 20*time.Millisecond)
	m.RecallCompleted(models.ModeKeyword, 5*time.Millisecond)

	if got := testutil.ToFloat64(m.SyncFilesTotal.WithLabelValues("added")); got != 2 {
		t.Errorf("added = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SyncFilesTotal.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.RecallDuration); n != 2 {
		t.Errorf("recall series = %d, want 2", n)
	}
	if n := testutil.CollectAndCount(m.SyncDuration); n != 1 {
		t.Errorf("sync duration series = %d, want 1", n)
	}
}

func TestPluginHealth(t *testing.T) {
	m := NewMetrics()
	m.PluginHealth("ollama", models.PluginHealth{Healthy: false})
	if got := testutil.ToFloat64(m.PluginHealthy.WithLabelValues("ollama")); got != 0 {
		t.Errorf("unhealthy gauge = %v, want 0", got)
	}
	m.PluginHealth("ollama", models.PluginHealth{Healthy: true})
	if got := testutil.ToFloat64(m.PluginHealthy.WithLabelValues("ollama")); got != 1 {
		t.Errorf("healthy gauge = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.FileSynced("updated")
	m.PluginHealth("hash", models.PluginHealth{Healthy: true})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`kioku_sync_files_total{outcome="updated"} 1`,
		`kioku_plugin_healthy{plugin="hash"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
