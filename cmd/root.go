// Package cmd defines the ragcrawler CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/config"
	"github.com/JakeFAU/rag-crawler/internal/logging"
)

// runtimeKeyType is the key for storing the Runtime in the command context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// Runtime carries the loaded configuration and logger to subcommands.
type Runtime struct {
	Config config.Config
	Logger *zap.Logger
}

// newRuntime loads configuration and builds the logger. Tests replace it.
var newRuntime = func(path string) (*Runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &Runtime{Config: cfg, Logger: logger}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "ragcrawler",
		Short: "Crawl websites into a searchable knowledge base.",
		Long: `ragcrawler fetches pages from registered or ad hoc seed URLs, splits
them into chunks, embeds the chunks and stores them in a vector index.
It runs as an HTTP service (serve) or as a one-shot crawler (crawl).`,
		SilenceUsage: true,

		// Runs after flag parsing and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveRuntime(cmd.Context()); err == nil {
				_ = rt.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); RAGCRAWLER_* env vars override it")
	cmd.AddCommand(newServeCmd(), newCrawlCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*Runtime, error) {
	if ctx == nil {
		return nil, errors.New("runtime not initialized")
	}
	rt, ok := ctx.Value(runtimeKey).(*Runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "ragcrawler:", err)
		os.Exit(1)
	}
}
