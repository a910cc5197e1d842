// Package cmd implements the jobtalk command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dkessler/jobtalk/internal/config"
	"github.com/dkessler/jobtalk/internal/index"
	"github.com/dkessler/jobtalk/internal/localid"
	"github.com/dkessler/jobtalk/internal/outbox"
	"github.com/dkessler/jobtalk/internal/readstate"
	"github.com/dkessler/jobtalk/internal/store"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "jobtalk",
	Short: "Local-first conversation engine",
	Long: `jobtalk maintains job-marketplace conversations and message threads
in a local SQLite database: composed messages appear immediately,
are durably queued, and are delivered with bounded retries.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}

		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.jobtalk/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// openStore opens the configured database and initializes the schema.
func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// engine bundles the core components the commands wire together.
type engine struct {
	store    *store.Store
	pipeline *outbox.Pipeline
	tracker  *readstate.Tracker
	index    *index.Index
}

// openEngine opens the store and assembles pipeline, tracker and index.
// The pipeline uses the loopback transport until a backend is configured.
func openEngine() (*engine, error) {
	st, err := openStore()
	if err != nil {
		return nil, err
	}

	ids := localid.NewGenerator(cfg.Device.ID)
	pipeline := outbox.New(st, &outbox.Loopback{}, ids, outbox.Config{
		MaxAttempts: cfg.Outbox.MaxAttempts,
		BaseDelay:   cfg.Outbox.BaseDelay(),
		MaxDelay:    cfg.Outbox.MaxDelay(),
	}).WithLogger(logger)

	tracker := readstate.New(st)

	return &engine{
		store:    st,
		pipeline: pipeline,
		tracker:  tracker,
		index:    index.New(st, tracker),
	}, nil
}

// close shuts the engine down, draining in-flight deliveries.
func (e *engine) close() {
	if err := e.pipeline.Close(); err != nil {
		logger.Error("close pipeline", "error", err)
	}
	if err := e.store.Close(); err != nil {
		logger.Error("close store", "error", err)
	}
}
