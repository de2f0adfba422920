package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"otonote/internal/diarize"
	"otonote/internal/metrics"
)

var (
	workerConcurrency int
	workerMetricsAddr string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued transcription jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(true)
		if err != nil {
			return err
		}
		defer a.close()

		if !a.diarizationReady() {
			return diarize.ErrMissingCredential
		}

		n := a.cfg.Worker.Concurrency
		if workerConcurrency > 0 {
			n = workerConcurrency
		}
		workers, err := a.newWorkers(n)
		if err != nil {
			return err
		}
		metrics.MustRegister()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		runWorkers(gctx, workers, g.Go)
		a.log.Info().Int("workers", n).Msg("transcribe workers started")

		if workerMetricsAddr != "" {
			a.cfg.MetricsAddr = workerMetricsAddr
		}
		if a.cfg.MetricsEnabled() {
			serveUntilDone(gctx, g, newMetricsServer(a.cfg.MetricsAddr), a.log, "metrics")
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		a.log.Info().Msg("workers stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "Worker count (default WORKER_CONCURRENCY)")
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", `Metrics listen address, "off" to disable (default METRICS_ADDR)`)
	rootCmd.AddCommand(workerCmd)
}
