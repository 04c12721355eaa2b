package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/mcp"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/notebook"
	"github.com/hyperjump/kioku/internal/server"
)

// backend is what the one-shot commands need, served either in-process or by a
// running kioku server.
type backend interface {
	Recall(ctx context.Context, query *models.RecallQuery) (*models.RecallResponse, error)
	FullSync(ctx context.Context) (*models.SyncResult, error)
	Status(ctx context.Context) (*models.Status, error)
	ListFiles(ctx context.Context, partialOnly bool) ([]*models.FileRecord, error)
	SwitchPlugin(ctx context.Context, id string) (*models.SyncResult, error)
	Plugins(ctx context.Context) ([]models.PluginInfo, error)
	Read(path string, from, to int) (*notebook.Excerpt, error)
	WriteFile(ctx context.Context, path, content string) (*notebook.WriteResult, error)
	AppendSection(ctx context.Context, path, heading, text string) (*notebook.WriteResult, error)
	ReplaceSection(ctx context.Context, path, heading, text string) (*notebook.WriteResult, error)
	DailyLog(ctx context.Context, text string) (*notebook.WriteResult, error)
}

// localBackend serves commands from an in-process app.
type localBackend struct {
	*app
}

func (b localBackend) Recall(ctx context.Context, q *models.RecallQuery) (*models.RecallResponse, error) {
	return b.engine.Recall(ctx, q)
}

func (b localBackend) FullSync(ctx context.Context) (*models.SyncResult, error) {
	return b.sync.FullSync(ctx)
}

func (b localBackend) Status(ctx context.Context) (*models.Status, error) {
	return b.sync.Status(ctx)
}

func (b localBackend) ListFiles(ctx context.Context, partialOnly bool) ([]*models.FileRecord, error) {
	return b.sync.ListFiles(ctx, partialOnly)
}

func (b localBackend) SwitchPlugin(ctx context.Context, id string) (*models.SyncResult, error) {
	return b.sync.SwitchPlugin(ctx, id)
}

func (b localBackend) Plugins(ctx context.Context) ([]models.PluginInfo, error) {
	return b.registry.Describe(ctx, b.monitor.Health), nil
}

func (b localBackend) Read(path string, from, to int) (*notebook.Excerpt, error) {
	return b.notebook.Read(path, from, to)
}

func (b localBackend) WriteFile(ctx context.Context, path, content string) (*notebook.WriteResult, error) {
	return b.notebook.WriteFile(ctx, path, content)
}

func (b localBackend) AppendSection(ctx context.Context, path, heading, text string) (*notebook.WriteResult, error) {
	return b.notebook.AppendSection(ctx, path, heading, text)
}

func (b localBackend) ReplaceSection(ctx context.Context, path, heading, text string) (*notebook.WriteResult, error) {
	return b.notebook.ReplaceSection(ctx, path, heading, text)
}

func (b localBackend) DailyLog(ctx context.Context, text string) (*notebook.WriteResult, error) {
	return b.notebook.DailyLog(ctx, text)
}

// withBackend runs fn against the server named by --server, or against a local app.
func (o *rootOptions) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.serverURL != "" {
		return fn(ctx, newAPIClient(o.serverURL))
	}
	cfg, logger, err := o.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, localBackend{a})
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the watcher and health monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			stop, err := a.startBackground(ctx)
			if err != nil {
				return err
			}
			defer stop()

			srv := server.NewServer(a.engine, a.sync, a.notebook, a.registry, &cfg.Server, logger,
				server.WithMetrics(a.metrics.Handler()),
				server.WithHealthSource(a.monitor.Health),
			)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info("Shutting down...")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Stop(shutdownCtx)
		},
	}
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve recall and notebook tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			stop, err := a.startBackground(ctx)
			if err != nil {
				return err
			}
			defer stop()

			s := mcp.NewServer(a.engine, a.notebook, a.sync, version)
			return mcp.Serve(ctx, s, os.Stdin, os.Stdout)
		},
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the index with the notebook folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, b backend) error {
				res, err := b.FullSync(ctx)
				if err != nil {
					return err
				}
				return cli.WriteSyncResult(cmd.OutOrStdout(), res, opts.format())
			})
		},
	}
}

func newRecallCmd(opts *rootOptions) *cobra.Command {
	var (
		limit    int
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search the notebook",
		Long: `Search the notebook with keyword and, when an embedding plugin is ready,
vector search. The query is all arguments joined by spaces.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := &models.RecallQuery{Query: joinArgs(args), MaxResults: limit}
			if cmd.Flags().Changed("min-score") {
				q.MinScore = &minScore
			}
			return opts.withBackend(cmd, func(ctx context.Context, b backend) error {
				resp, err := b.Recall(ctx, q)
				if err != nil {
					return err
				}
				return cli.WriteRecallResults(cmd.OutOrStdout(), resp, opts.format())
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results (default search.max_results)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum fused score (default search.min_score)")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index and plugin status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, b backend) error {
				st, err := b.Status(ctx)
				if err != nil {
					return err
				}
				return cli.WriteStatus(cmd.OutOrStdout(), st, opts.format())
			})
		},
	}
}

func newFilesCmd(opts *rootOptions) *cobra.Command {
	var partial bool
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List indexed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, b backend) error {
				files, err := b.ListFiles(ctx, partial)
				if err != nil {
					return err
				}
				return cli.WriteFiles(cmd.OutOrStdout(), files, opts.format())
			})
		},
	}
	cmd.Flags().BoolVar(&partial, "partial", false, "only files indexed without embeddings")
	return cmd
}

func newPluginCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "List or switch embedding plugins",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered plugins",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withBackend(cmd, func(ctx context.Context, b backend) error {
					plugins, err := b.Plugins(ctx)
					if err != nil {
						return err
					}
					return cli.WritePlugins(cmd.OutOrStdout(), plugins, opts.format())
				})
			},
		},
		&cobra.Command{
			Use:   "use <id>",
			Short: `Activate a plugin and re-sync ("none" disables embeddings)`,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id := args[0]
				if id == "none" {
					id = ""
				}
				return opts.withBackend(cmd, func(ctx context.Context, b backend) error {
					res, err := b.SwitchPlugin(ctx, id)
					if err != nil {
						return err
					}
					if res == nil {
						res = &models.SyncResult{}
					}
					return cli.WriteSyncResult(cmd.OutOrStdout(), res, opts.format())
				})
			},
		},
	)
	return cmd
}

func newNoteCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Read and write notebook files",
	}

	var from, to int
	read := &cobra.Command{
		Use:   "read <path>",
		Short: "Print a file or a line range of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd, func(_ context.Context, b backend) error {
				ex, err := b.Read(args[0], from, to)
				if err != nil {
					return err
				}
				if opts.json {
					return cli.WriteJSON(cmd.OutOrStdout(), ex)
				}
				fmt.Fprintln(cmd.OutOrStdout(), ex.Content)
				return nil
			})
		},
	}
	read.Flags().IntVar(&from, "from", 0, "first line (1-based)")
	read.Flags().IntVar(&to, "to", 0, "last line (inclusive)")

	write := &cobra.Command{
		Use:   "write <path> [content]",
		Short: "Replace a file's content (reads stdin when content is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := contentArg(cmd, args[1:])
			if err != nil {
				return err
			}
			return opts.withBackend(cmd, func(ctx context.Context, b backend) error {
				res, err := b.WriteFile(ctx, args[0], content)
				return reportWrite(cmd, opts, res, err)
			})
		},
	}

	var heading string
	var replace bool
	appendCmd := &cobra.Command{
		Use:   "append <path> [text]",
		Short: "Append text under a heading, creating the section when missing",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := contentArg(cmd, args[1:])
			if err != nil {
				return err
			}
			return opts.withBackend(cmd, func(ctx context.Context, b backend) error {
				var res *notebook.WriteResult
				if replace {
					res, err = b.ReplaceSection(ctx, args[0], heading, text)
				} else {
					res, err = b.AppendSection(ctx, args[0], heading, text)
				}
				return reportWrite(cmd, opts, res, err)
			})
		},
	}
	appendCmd.Flags().StringVar(&heading, "heading", "", "section heading")
	appendCmd.Flags().BoolVar(&replace, "replace", false, "replace the section body instead of appending")
	_ = appendCmd.MarkFlagRequired("heading")

	daily := &cobra.Command{
		Use:   "daily <text>",
		Short: "Add a timestamped entry to today's daily log",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBackend(cmd, func(ctx context.Context, b backend) error {
				res, err := b.DailyLog(ctx, joinArgs(args))
				return reportWrite(cmd, opts, res, err)
			})
		},
	}

	cmd.AddCommand(read, write, appendCmd, daily)
	return cmd
}

// contentArg returns the optional content argument, or stdin when it is absent.
func contentArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

// reportWrite prints a write result. A failed follow-up sync leaves the write in
// place, so it is a warning.
func reportWrite(cmd *cobra.Command, opts *rootOptions, res *notebook.WriteResult, err error) error {
	if err != nil && res == nil {
		return err
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: wrote %s but indexing failed: %v\n", res.Path, err)
	}
	if opts.json {
		return cli.WriteJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", res.Path)
	return nil
}
