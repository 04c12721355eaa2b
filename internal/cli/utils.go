// Package cli provides terminal and JSON output helpers for the kioku commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────"

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRecallResults writes a recall response to w in the given format.
func WriteRecallResults(w io.Writer, response *models.RecallResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (%s)\n", response.Total, response.QueryTime, response.Mode)
	for _, g := range response.Groups {
		fmt.Fprintf(w, "\n--- %s ---\n", g.Category)
		for _, r := range g.Results {
			writeOneResult(w, r)
		}
	}
	return nil
}

func writeOneResult(w io.Writer, r *models.RecallResult) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Rank: %d | Score: %.4f | %s:%d-%d\n", r.Rank, r.Score, r.Path, r.StartLine, r.EndLine)
	if r.Heading != "" {
		fmt.Fprintf(w, "Heading: %s\n", r.Heading)
	}
	fmt.Fprintf(w, "\n%s\n\n", TruncateWords(r.Snippet, 60))
}

// WriteSyncResult writes sync counts and per-file errors.
func WriteSyncResult(w io.Writer, res *models.SyncResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	fmt.Fprintf(w, "Added %d, updated %d, removed %d, skipped %d\n", res.Added, res.Updated, res.Removed, res.Skipped)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error: %s: %s\n", e.Path, e.Err)
	}
	return nil
}

// WriteStatus writes the index status.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "Files:          %d (%d without embeddings)\n", st.Files, st.PartialFiles)
	fmt.Fprintf(w, "Chunks:         %d (%d embedded)\n", st.Chunks, st.EmbeddedChunks)
	plugin := st.ActivePlugin
	if plugin == "" {
		plugin = "none (keyword search only)"
	}
	fmt.Fprintf(w, "Active plugin:  %s\n", plugin)
	if h := st.PluginHealth; h != nil {
		state := "healthy"
		if !h.Healthy {
			state = "unhealthy"
		}
		fmt.Fprintf(w, "Plugin health:  %s", state)
		if h.Message != "" {
			fmt.Fprintf(w, " - %s", h.Message)
		}
		fmt.Fprintln(w)
		if h.Resolution != "" {
			fmt.Fprintf(w, "                %s\n", h.Resolution)
		}
	}
	if st.LastSync != nil {
		r := st.LastSync.Result
		fmt.Fprintf(w, "Last sync:      %s (%dms): +%d ~%d -%d, %d errors\n",
			st.LastSync.At.Format(time.RFC3339), st.LastSync.DurationMS, r.Added, r.Updated, r.Removed, len(r.Errors))
	} else {
		fmt.Fprintln(w, "Last sync:      never")
	}
	if st.Syncing {
		fmt.Fprintln(w, "Sync in progress")
	}
	fmt.Fprintf(w, "Disk usage:     %s\n", FormatBytes(st.DiskUsageBytes))
	return nil
}

// WriteFiles writes the per-file index state.
func WriteFiles(w io.Writer, files []*models.FileRecord, format OutputFormat) error {
	if format == OutputJSON {
		if files == nil {
			files = []*models.FileRecord{}
		}
		return WriteJSON(w, files)
	}
	for _, f := range files {
		mark := " "
		if !f.IndexedWithEmbeddings {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-50s %4d chunks  %s\n", mark, f.Path, f.ChunkCount, f.IndexedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(w, "%d files", len(files))
	partial := 0
	for _, f := range files {
		if !f.IndexedWithEmbeddings {
			partial++
		}
	}
	if partial > 0 {
		fmt.Fprintf(w, " (* = %d without embeddings)", partial)
	}
	fmt.Fprintln(w)
	return nil
}

// WritePlugins writes the registered embedding plugins.
func WritePlugins(w io.Writer, plugins []models.PluginInfo, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, plugins)
	}
	for _, p := range plugins {
		mark := " "
		if p.Active {
			mark = "*"
		}
		line := fmt.Sprintf("%s %-8s", mark, p.ID)
		if p.Active {
			state := "not ready"
			if p.Ready {
				state = "ready"
			}
			line += "  " + state
			if p.Dimensions > 0 {
				line += fmt.Sprintf(", %d dims", p.Dimensions)
			}
		}
		if p.Health != nil && p.Health.Message != "" {
			line += "  (" + p.Health.Message + ")"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
