package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"otonote/internal/asr"
	"otonote/internal/audio"
	"otonote/internal/config"
	"otonote/internal/db"
	"otonote/internal/diarize"
	"otonote/internal/jobs"
	"otonote/internal/logging"
	"otonote/internal/metrics"
	"otonote/internal/pipeline"
)

var rootCmd = &cobra.Command{
	Use:           "otonote",
	Short:         "Speaker-attributed transcription job service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// app is the process-wide state shared by subcommands.
type app struct {
	cfg config.Config
	log *zerolog.Logger
	db  *gorm.DB
}

// setup loads configuration once, logs which secrets are present and opens
// the database.
func setup(migrate bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Log)
	log.Info().
		Bool("database_url_set", cfg.DatabaseURL != "").
		Bool("hf_token_set", cfg.Engines.HFToken != "").
		Str("database", db.Describe(cfg.DatabaseURL)).
		Msg("otonote booted")

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if migrate {
		if err := db.AutoMigrateAndIndexes(gdb); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &app{cfg: cfg, log: log, db: gdb}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// newWorkers builds n workers; each owns its transcription engine cache.
func (a *app) newWorkers(n int) ([]*jobs.Worker, error) {
	factory, err := asr.NewFactory(a.cfg.Engines)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	repo := &jobs.Repo{DB: a.db}
	conv := audio.NewFFmpeg(a.cfg.Engines.FFmpegBin)
	diar := diarize.NewPyannote(a.cfg.Engines.DiarizeCommand, a.cfg.Engines.HFToken)

	workers := make([]*jobs.Worker, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d-%s", host, i+1, uuid.NewString()[:8])
		wlog := logging.Component(a.log, "worker")
		workers = append(workers, &jobs.Worker{
			ID:   id,
			Repo: repo,
			Processor: &pipeline.Orchestrator{
				Store:     repo,
				Converter: conv,
				Diarizer:  diar,
				Engines:   asr.NewCache(factory),
				Cfg:       a.cfg.Pipeline,
				Log:       wlog,
			},
			Log:               wlog,
			PollInterval:      a.cfg.Worker.PollInterval,
			HeartbeatInterval: a.cfg.Worker.HeartbeatInterval,
			LeaseTimeout:      a.cfg.Worker.LeaseTimeout,
		})
	}
	return workers, nil
}

func runWorkers(ctx context.Context, workers []*jobs.Worker, start func(func() error)) {
	for _, w := range workers {
		start(func() error {
			w.Run(ctx)
			return nil
		})
	}
}

// diarizationReady reports whether workers may start. Without HF_TOKEN every
// job would end in CredentialError, so workers are not started at all.
func (a *app) diarizationReady() bool {
	if a.cfg.Engines.HFToken == "" {
		a.log.Error().Msg("HF_TOKEN is missing; refusing to start workers")
		return false
	}
	return true
}

// newMetricsServer exposes the worker-side collectors for scraping.
func newMetricsServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveUntilDone runs srv in g and shuts it down once ctx ends.
func serveUntilDone(ctx context.Context, g *errgroup.Group, srv *http.Server, log *zerolog.Logger, name string) {
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("server", name).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
