// Package main applies the literature resolver's schema migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/config"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/database"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type actionKind int

const (
	actionUp actionKind = iota + 1
	actionDown
	actionSteps
	actionVersion
	actionForce
)

// action is the single operation requested on the command line.
type action struct {
	kind actionKind
	n    int
	path string
}

var errNoAction = errors.New("no action specified")

// parseAction reads flags and checks that exactly one action was requested.
func parseAction(fs *flag.FlagSet, args []string) (action, error) {
	up := fs.Bool("up", false, "Run all pending migrations")
	down := fs.Bool("down", false, "Roll back all migrations")
	steps := fs.Int("steps", 0, "Run N migration steps (positive=up, negative=down)")
	version := fs.Bool("version", false, "Print the current migration version")
	force := fs.Int("force", -1, "Force set migration version (use to recover from failed migrations)")
	path := fs.String("path", "", "Override the migrations directory path")
	if err := fs.Parse(args); err != nil {
		return action{}, err
	}

	var selected []action
	if *up {
		selected = append(selected, action{kind: actionUp})
	}
	if *down {
		selected = append(selected, action{kind: actionDown})
	}
	if *steps != 0 {
		selected = append(selected, action{kind: actionSteps, n: *steps})
	}
	if *version {
		selected = append(selected, action{kind: actionVersion})
	}
	if *force >= 0 {
		selected = append(selected, action{kind: actionForce, n: *force})
	}

	switch len(selected) {
	case 0:
		return action{}, errNoAction
	case 1:
		a := selected[0]
		a.path = *path
		return a, nil
	default:
		return action{}, fmt.Errorf("specify only one action at a time")
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	act, err := parseAction(fs, args)
	if errors.Is(err, errNoAction) {
		fs.Usage()
		fmt.Fprintln(os.Stderr, "\nPlease specify one of: -up, -down, -steps N, -version, -force V")
	}
	if err != nil {
		return err
	}

	// Database settings come from env/config file.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if act.path != "" {
		migrationDir = act.path
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := apply(migrator, act, logger); err != nil {
		return err
	}
	printVersion(migrator, logger)
	return nil
}

func apply(migrator *database.Migrator, act action, logger zerolog.Logger) error {
	switch act.kind {
	case actionUp:
		logger.Info().Msg("running all pending migrations")
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case actionDown:
		logger.Warn().Msg("rolling back all migrations")
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case actionSteps:
		logger.Info().Int("steps", act.n).Msg("running migration steps")
		if err := migrator.Steps(act.n); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}
	case actionForce:
		logger.Warn().Int("version", act.n).Msg("forcing migration version")
		if err := migrator.Force(act.n); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
	case actionVersion:
	}
	return nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
