package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkessler/jobtalk/internal/api"
	"github.com/dkessler/jobtalk/internal/sweeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Starts the HTTP API for presentation consumers, resumes any messages
left pending by a previous run, and keeps the pending sweep running on
the configured schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		if _, err := eng.pipeline.Resume(cmd.Context()); err != nil {
			return err
		}

		var sw *sweeper.Sweeper
		if cfg.Sweeper.Enabled {
			sw, err = sweeper.New(cfg.Sweeper.Schedule, eng.pipeline.Resume)
			if err != nil {
				return err
			}
			sw.WithLogger(logger).Start()
		}

		server := api.NewServer(cfg, eng.store, eng.index, eng.pipeline, eng.tracker, logger)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case <-cmd.Context().Done():
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if sw != nil {
			<-sw.Stop().Done()
		}
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
