// Package mcp exposes recall and the notebook helpers to the assistant layer as
// MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/notebook"
)

// Recaller answers recall queries.
type Recaller interface {
	Recall(ctx context.Context, query *models.RecallQuery) (*models.RecallResponse, error)
}

// Notebook reads and writes notebook files.
type Notebook interface {
	Read(path string, from, to int) (*notebook.Excerpt, error)
	WriteFile(ctx context.Context, path, content string) (*notebook.WriteResult, error)
	AppendSection(ctx context.Context, path, heading, text string) (*notebook.WriteResult, error)
	ReplaceSection(ctx context.Context, path, heading, text string) (*notebook.WriteResult, error)
	DailyLog(ctx context.Context, text string) (*notebook.WriteResult, error)
}

// StatusSource reports the index status.
type StatusSource interface {
	Status(ctx context.Context) (*models.Status, error)
}

// NewServer builds an MCP server with the recall, notebook_read, notebook_write,
// daily_log and status tools.
func NewServer(recall Recaller, nb Notebook, status StatusSource, version string) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("kioku", version, mcpserver.WithToolCapabilities(false))
	s.AddTool(recallTool(), makeRecallHandler(recall))
	s.AddTool(notebookReadTool(), makeNotebookReadHandler(nb))
	s.AddTool(notebookWriteTool(), makeNotebookWriteHandler(nb))
	s.AddTool(dailyLogTool(), makeDailyLogHandler(nb))
	s.AddTool(statusTool(), makeStatusHandler(status))
	return s
}

// Serve runs the server on the given streams until ctx is cancelled or stdin closes.
func Serve(ctx context.Context, s *mcpserver.MCPServer, stdin io.Reader, stdout io.Writer) error {
	return mcpserver.NewStdioServer(s).Listen(ctx, stdin, stdout)
}

var readOnlyAnnotation = mcpgo.ToolAnnotation{
	ReadOnlyHint:    mcpgo.ToBoolPtr(true),
	DestructiveHint: mcpgo.ToBoolPtr(false),
	IdempotentHint:  mcpgo.ToBoolPtr(true),
	OpenWorldHint:   mcpgo.ToBoolPtr(false),
}

var writeAnnotation = mcpgo.ToolAnnotation{
	ReadOnlyHint:    mcpgo.ToBoolPtr(false),
	DestructiveHint: mcpgo.ToBoolPtr(true),
	IdempotentHint:  mcpgo.ToBoolPtr(false),
	OpenWorldHint:   mcpgo.ToBoolPtr(false),
}

func recallTool() mcpgo.Tool {
	return mcpgo.NewTool("recall",
		mcpgo.WithDescription("Search the notebook by meaning and keyword. Returns passages grouped by source (notebook, daily) with path, heading, line range and score."),
		mcpgo.WithToolAnnotation(readOnlyAnnotation),
		mcpgo.WithString("query",
			mcpgo.Required(),
			mcpgo.Description("What to look for, in natural language or keywords"),
		),
		mcpgo.WithNumber("max_results",
			mcpgo.Description("Maximum number of passages (default 15)"),
		),
		mcpgo.WithNumber("min_score",
			mcpgo.Description("Minimum relevance between 0 and 1 (default 0.25)"),
		),
	)
}

func notebookReadTool() mcpgo.Tool {
	return mcpgo.NewTool("notebook_read",
		mcpgo.WithDescription("Read a notebook file, optionally a line range. Use after recall to see the full context of a passage."),
		mcpgo.WithToolAnnotation(readOnlyAnnotation),
		mcpgo.WithString("path",
			mcpgo.Required(),
			mcpgo.Description("Path relative to the notebook root"),
		),
		mcpgo.WithNumber("from", mcpgo.Description("First line, 1-based (default 1)")),
		mcpgo.WithNumber("to", mcpgo.Description("Last line, inclusive (default end of file)")),
	)
}

func notebookWriteTool() mcpgo.Tool {
	return mcpgo.NewTool("notebook_write",
		mcpgo.WithDescription("Write a notebook file, or append to or replace one of its sections. The index is updated right after."),
		mcpgo.WithToolAnnotation(writeAnnotation),
		mcpgo.WithString("path",
			mcpgo.Required(),
			mcpgo.Description("Path relative to the notebook root, e.g. projects/kioku.md"),
		),
		mcpgo.WithString("content",
			mcpgo.Required(),
			mcpgo.Description("Markdown text to write"),
		),
		mcpgo.WithString("mode",
			mcpgo.Enum("write", "append", "replace"),
			mcpgo.Description("write replaces the file; append and replace edit the section named by heading (default write)"),
		),
		mcpgo.WithString("heading",
			mcpgo.Description("Section heading for append and replace"),
		),
	)
}

func dailyLogTool() mcpgo.Tool {
	return mcpgo.NewTool("daily_log",
		mcpgo.WithDescription("Append a timestamped entry to today's daily note."),
		mcpgo.WithToolAnnotation(writeAnnotation),
		mcpgo.WithString("text",
			mcpgo.Required(),
			mcpgo.Description("Entry text"),
		),
	)
}

func statusTool() mcpgo.Tool {
	return mcpgo.NewTool("status",
		mcpgo.WithDescription("Report indexed file and chunk counts, the active embedding plugin and its health, and the last sync."),
		mcpgo.WithToolAnnotation(readOnlyAnnotation),
	)
}

func makeRecallHandler(recall Recaller) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		q := &models.RecallQuery{
			Query:      req.GetString("query", ""),
			MaxResults: req.GetInt("max_results", 0),
		}
		if v := req.GetFloat("min_score", -1); v >= 0 {
			q.MinScore = &v
		}
		resp, err := recall.Recall(ctx, q)
		if err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		return mcpgo.NewToolResultText(FormatRecall(resp)), nil
	}
}

func makeNotebookReadHandler(nb Notebook) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		path := req.GetString("path", "")
		if path == "" {
			return mcpgo.NewToolResultError("path is required"), nil
		}
		ex, err := nb.Read(path, req.GetInt("from", 0), req.GetInt("to", 0))
		if err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("read failed: %v", err)), nil
		}
		if ex.TotalLines == 0 {
			return mcpgo.NewToolResultText(fmt.Sprintf("%s is empty.", ex.Path)), nil
		}
		header := fmt.Sprintf("%s (lines %d-%d of %d)\n\n", ex.Path, ex.From, ex.To, ex.TotalLines)
		return mcpgo.NewToolResultText(header + ex.Content), nil
	}
}

func makeNotebookWriteHandler(nb Notebook) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		path := req.GetString("path", "")
		content := req.GetString("content", "")
		heading := req.GetString("heading", "")
		var (
			res *notebook.WriteResult
			err error
		)
		switch mode := req.GetString("mode", "write"); mode {
		case "", "write":
			res, err = nb.WriteFile(ctx, path, content)
		case "append":
			res, err = nb.AppendSection(ctx, path, heading, content)
		case "replace":
			res, err = nb.ReplaceSection(ctx, path, heading, content)
		default:
			return mcpgo.NewToolResultError(fmt.Sprintf("unknown mode %q", mode)), nil
		}
		return writeResult(res, err)
	}
}

func makeDailyLogHandler(nb Notebook) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		res, err := nb.DailyLog(ctx, req.GetString("text", ""))
		return writeResult(res, err)
	}
}

func makeStatusHandler(status StatusSource) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		st, err := status.Status(ctx)
		if err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
		}
		raw, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return nil, err
		}
		return mcpgo.NewToolResultText(string(raw)), nil
	}
}

// writeResult reports a write. A write whose follow-up sync failed still
// succeeded on disk, so it is reported as a warning rather than a failure.
func writeResult(res *notebook.WriteResult, err error) (*mcpgo.CallToolResult, error) {
	switch {
	case err != nil && res == nil:
		return mcpgo.NewToolResultError(fmt.Sprintf("write failed: %v", err)), nil
	case err != nil:
		return mcpgo.NewToolResultText(fmt.Sprintf("Wrote %s, but indexing failed: %v", res.Path, err)), nil
	}
	return mcpgo.NewToolResultText(fmt.Sprintf("Wrote %s.", res.Path)), nil
}

// FormatRecall renders a recall response as markdown for the assistant.
func FormatRecall(resp *models.RecallResponse) string {
	if resp.Total == 0 {
		return fmt.Sprintf("No results found for %q.", resp.Query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Recall for %q (%d results, %s)\n", resp.Query, resp.Total, resp.Mode)
	for _, g := range resp.Groups {
		fmt.Fprintf(&sb, "\n### %s\n", g.Category)
		for _, r := range g.Results {
			fmt.Fprintf(&sb, "\n**%d. %s:%d-%d**", r.Rank, r.Path, r.StartLine, r.EndLine)
			if r.Heading != "" {
				fmt.Fprintf(&sb, " (%s)", r.Heading)
			}
			fmt.Fprintf(&sb, " score %.2f\n\n%s\n", r.Score, r.Snippet)
		}
	}
	return sb.String()
}
