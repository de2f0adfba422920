package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"otonote/internal/auth"
	httpx "otonote/internal/http"
	"otonote/internal/logging"
	"otonote/internal/media"
	"otonote/internal/metrics"
)

var serveWorkers int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload API, optionally with embedded workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(true)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.cfg.RequireJWT(); err != nil {
			return err
		}
		metrics.MustRegister()

		r := httpx.NewRouter(a.cfg, httpx.Deps{
			DB:    a.db,
			JWT:   auth.NewJWT(a.cfg.JWTSecret),
			Media: media.NewStore(a.cfg.MediaRoot),
			Log:   logging.Component(a.log, "http"),
		})
		srv := &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)

		// the API stays up without HF_TOKEN; only the workers are withheld
		if serveWorkers > 0 && a.diarizationReady() {
			workers, err := a.newWorkers(serveWorkers)
			if err != nil {
				return err
			}
			runWorkers(gctx, workers, g.Go)
		}

		serveUntilDone(gctx, g, srv, a.log, "api")

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Embedded worker count")
	rootCmd.AddCommand(serveCmd)
}
