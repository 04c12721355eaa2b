package models

import "time"

// Source categories for recall results.
const (
	CategoryNotebook = "notebook"
	CategoryDaily    = "daily"
)

// RecallResult is a single scored passage.
type RecallResult struct {
	ChunkID   string  `json:"chunk_id"`
	Path      string  `json:"path"`
	Heading   string  `json:"heading,omitempty"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Snippet   string  `json:"snippet"`
	// Score is the RRF sum of 1/(k+rank) over both rankings divided by its maximum
	// 2/(k+1), so it lies in (0, 1]. A first place in one ranking alone scores 0.5.
	Score    float64 `json:"score"`
	Category string  `json:"category"`
	Rank     int     `json:"rank"`
}

// RecallGroup holds the results of one source category in rank order.
type RecallGroup struct {
	Category string          `json:"category"`
	Results  []*RecallResult `json:"results"`
}

// RecallResponse is the response for a recall request.
type RecallResponse struct {
	Query     string         `json:"query"`
	Mode      string         `json:"mode"`
	Total     int            `json:"total"`
	Groups    []*RecallGroup `json:"groups"`
	QueryTime int64          `json:"query_time_ms"`
}

// Recall modes.
const (
	ModeHybrid  = "hybrid"
	ModeKeyword = "keyword"
)

// FileError is a per-file failure collected during a sync pass.
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Added   int         `json:"added"`
	Updated int         `json:"updated"`
	Removed int         `json:"removed"`
	Skipped int         `json:"skipped"`
	Errors  []FileError `json:"errors,omitempty"`
}

// AddError records a per-file failure.
func (r *SyncResult) AddError(path string, err error) {
	r.Errors = append(r.Errors, FileError{Path: path, Err: err.Error()})
}

// PluginHealth is the health snapshot of an embedding plugin.
type PluginHealth struct {
	Healthy    bool      `json:"healthy"`
	Message    string    `json:"message,omitempty"`
	Resolution string    `json:"resolution,omitempty"`
	Since      time.Time `json:"since,omitempty"`
}

// LastSync describes the most recent completed sync.
type LastSync struct {
	At         time.Time  `json:"at"`
	DurationMS int64      `json:"duration_ms"`
	Result     SyncResult `json:"result"`
}

// Status is the operational snapshot of the engine.
type Status struct {
	Files          int           `json:"files"`
	PartialFiles   int           `json:"partial_files"`
	Chunks         int           `json:"chunks"`
	EmbeddedChunks int           `json:"embedded_chunks"`
	ActivePlugin   string        `json:"active_plugin,omitempty"`
	PluginHealth   *PluginHealth `json:"plugin_health,omitempty"`
	LastSync       *LastSync     `json:"last_sync,omitempty"`
	Syncing        bool          `json:"syncing"`
	DiskUsageBytes int64         `json:"disk_usage_bytes"`
}

// PluginInfo describes a registered embedding plugin.
type PluginInfo struct {
	ID         string        `json:"id"`
	Active     bool          `json:"active"`
	Ready      bool          `json:"ready"`
	Dimensions int           `json:"dimensions,omitempty"`
	Health     *PluginHealth `json:"health,omitempty"`
}
