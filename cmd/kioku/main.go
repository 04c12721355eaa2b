// Package main is the kioku CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
	json       bool
	serverURL  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kioku",
		Short:         "Personal notebook indexing and hybrid recall",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "config file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print JSON instead of text")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", os.Getenv("KIOKU_SERVER"),
		"kioku server URL; when set, commands go through its HTTP API")

	root.AddCommand(
		newServeCmd(opts),
		newSyncCmd(opts),
		newRecallCmd(opts),
		newStatusCmd(opts),
		newFilesCmd(opts),
		newMCPCmd(opts),
		newPluginCmd(opts),
		newNoteCmd(opts),
	)
	return root
}

func (o *rootOptions) format() cli.OutputFormat {
	if o.json {
		return cli.OutputJSON
	}
	return cli.OutputText
}

// loadConfig loads the config at path. A missing file at the default location yields
// the defaults so a fresh install works without setup; a missing explicit path is an error.
// When path is the default and ./config.yaml exists, that file is used instead.
func loadConfig(path string) (*config.Config, string, error) {
	if path == config.DefaultPath() {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				path = local
			}
		}
	}
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if path == config.DefaultPath() && errors.Is(err, fs.ErrNotExist) {
		cfg, err := defaultConfig(path)
		return cfg, path, err
	}
	return nil, "", err
}

// defaultConfig writes a default config to path and loads it back so paths are expanded.
func defaultConfig(path string) (*config.Config, error) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(path, cfg); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return config.Load(path)
}

// setup loads the config and builds the logger.
func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	cfg, path, err := loadConfig(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if o.debug {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.String("notebook", cfg.Notebook.Root))
	return cfg, logger, nil
}

// joinArgs joins positional args so multi-word input works with or without quotes.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
