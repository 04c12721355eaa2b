package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/notebook"
)

// apiClient talks to a running kioku server. The server holds the keyword index
// lock, so commands go through it while it is up.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *apiClient) Recall(ctx context.Context, q *models.RecallQuery) (*models.RecallResponse, error) {
	v := url.Values{"q": {q.Query}}
	if q.MaxResults > 0 {
		v.Set("limit", strconv.Itoa(q.MaxResults))
	}
	if q.MinScore != nil {
		v.Set("min_score", strconv.FormatFloat(*q.MinScore, 'f', -1, 64))
	}
	var out models.RecallResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/recall?"+v.Encode(), nil, &out)
	return &out, err
}

func (c *apiClient) FullSync(ctx context.Context) (*models.SyncResult, error) {
	var out models.SyncResult
	err := c.do(ctx, http.MethodPost, "/api/v1/sync", nil, &out)
	return &out, err
}

func (c *apiClient) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out)
	return &out, err
}

func (c *apiClient) ListFiles(ctx context.Context, partialOnly bool) ([]*models.FileRecord, error) {
	var out struct {
		Files []*models.FileRecord `json:"files"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/files?partial="+strconv.FormatBool(partialOnly), nil, &out)
	return out.Files, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) SwitchPlugin(ctx context.Context, id string) (*models.SyncResult, error) {
	var out struct {
		Sync *models.SyncResult `json:"sync"`
	}
	err := c.do(ctx, http.MethodPut, "/api/v1/plugins/active", map[string]string{"id": id}, &out)
	return out.Sync, err
}

func (c *apiClient) Plugins(ctx context.Context) ([]models.PluginInfo, error) {
	var out struct {
		Plugins []models.PluginInfo `json:"plugins"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/plugins", nil, &out)
	return out.Plugins, err
}

func (c *apiClient) Read(path string, from, to int) (*notebook.Excerpt, error) {
	v := url.Values{"path": {path}}
	if from > 0 {
		v.Set("from", strconv.Itoa(from))
	}
	if to > 0 {
		v.Set("to", strconv.Itoa(to))
	}
	var out notebook.Excerpt
	err := c.do(context.Background(), http.MethodGet, "/api/v1/notebook?"+v.Encode(), nil, &out)
	return &out, err
}

func (c *apiClient) WriteFile(ctx context.Context, path, content string) (*notebook.WriteResult, error) {
	return c.writeNote(ctx, map[string]string{"path": path, "content": content, "mode": "write"})
}

func (c *apiClient) AppendSection(ctx context.Context, path, heading, text string) (*notebook.WriteResult, error) {
	return c.writeNote(ctx, map[string]string{"path": path, "heading": heading, "content": text, "mode": "append"})
}

func (c *apiClient) ReplaceSection(ctx context.Context, path, heading, text string) (*notebook.WriteResult, error) {
	return c.writeNote(ctx, map[string]string{"path": path, "heading": heading, "content": text, "mode": "replace"})
}

func (c *apiClient) writeNote(ctx context.Context, body map[string]string) (*notebook.WriteResult, error) {
	var out notebook.WriteResult
	err := c.do(ctx, http.MethodPut, "/api/v1/notebook", body, &out)
	return &out, err
}

func (c *apiClient) DailyLog(ctx context.Context, text string) (*notebook.WriteResult, error) {
	var out notebook.WriteResult
	err := c.do(ctx, http.MethodPost, "/api/v1/daily", map[string]string{"text": text}, &out)
	return &out, err
}
