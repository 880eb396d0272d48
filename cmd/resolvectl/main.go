// Package main is the operator CLI for the literature resolver. Each
// subcommand runs one engine operation in-process and prints JSON.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/app"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/config"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/resolver"
)

// version is set at build time via ldflags.
var version = "dev"

// engine is the subset of the resolver the CLI drives.
type engine interface {
	Search(ctx context.Context, req resolver.SearchRequest) (*resolver.SearchResult, error)
	Recent(ctx context.Context, req resolver.RecentRequest) ([]*domain.Paper, error)
	ExtractCandidates(ctx context.Context, text string, maxResults int) (*resolver.ExtractResult, error)
	Discover(ctx context.Context, topic string, maxResults int) (*resolver.ExtractResult, error)
	Providers(ctx context.Context) []papersources.ProviderStatus
}

// openFunc assembles an engine. The returned closer releases its resources.
type openFunc func(ctx context.Context, noDB bool) (engine, func() error, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openEngine).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open openFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "resolvectl",
		Short: "Query the literature resolver from the command line",
		Long: `resolvectl runs the literature resolution engine in-process. It searches
providers through the cache, lists recent papers, and extracts paper
candidates from free text or a research topic. Results are printed as JSON.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("no-db", false, "run without the database (no cache, no persistence)")

	root.AddCommand(
		newSearchCmd(open),
		newRecentCmd(open),
		newExtractCmd(open),
		newDiscoverCmd(open),
		newProvidersCmd(open),
	)
	return root
}

// withEngine opens an engine for the duration of fn.
func withEngine(cmd *cobra.Command, open openFunc, fn func(ctx context.Context, e engine) error) error {
	noDB, _ := cmd.Flags().GetBool("no-db")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, closeFn, err := open(ctx, noDB)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeFn(); closeErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "close: %v\n", closeErr)
		}
	}()
	return fn(ctx, e)
}

func openEngine(ctx context.Context, noDB bool) (engine, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	// Logs go to stderr so stdout stays parseable.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: cfg.Logging.TimeFormat,
	}).With().Str("component", "resolvectl").Logger()

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	a, err := app.New(ctx, cfg, logger, metrics, app.Options{NoDB: noDB, EventSource: "resolvectl"})
	if err != nil {
		return nil, nil, err
	}
	return a.Resolver, a.Close, nil
}
