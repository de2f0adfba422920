package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"otonote/internal/metrics"
)

// Processor drives one leased job to a terminal state and records the
// outcome itself. The returned error is informational.
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

// Leaser is the part of Repo the worker loop needs.
type Leaser interface {
	Claim(ctx context.Context, workerID string) (*Job, error)
	Heartbeat(ctx context.Context, id uint64, workerID string) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Worker struct {
	ID        string
	Repo      Leaser
	Processor Processor
	Log       *zerolog.Logger

	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// LeaseTimeout of 0 keeps crashed jobs in running forever.
	LeaseTimeout time.Duration
}

func (w *Worker) Run(ctx context.Context) {
	poll := w.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	base := w.Log
	if base == nil {
		nop := zerolog.Nop()
		base = &nop
	}
	log := base.With().Str("worker_id", w.ID).Logger()
	log.Info().Dur("poll_interval", poll).Msg("worker started")

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		// drain while there is work, then back off
		for w.step(ctx, &log) {
			if ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopping")
			return
		case <-ticker.C:
		}
	}
}

// step claims and processes at most one job. It reports whether a job was handled.
func (w *Worker) step(ctx context.Context, log *zerolog.Logger) bool {
	if ctx.Err() != nil {
		return false
	}

	if w.LeaseTimeout > 0 {
		if n, err := w.Repo.ReclaimStale(ctx, w.LeaseTimeout); err != nil {
			log.Error().Err(err).Msg("reclaim stale leases")
		} else if n > 0 {
			log.Warn().Int64("count", n).Msg("requeued jobs with stale leases")
		}
	}

	job, err := w.Repo.Claim(ctx, w.ID)
	if err != nil {
		log.Error().Err(err).Msg("worker claim error")
		return false
	}
	if job == nil {
		return false
	}
	metrics.IncClaimed()

	jl := log.With().Uint64("job_id", job.ID).Logger()
	jl.Info().Str("model", job.ModelName).Str("language", job.Language).Msg("job claimed")

	stop := w.heartbeat(ctx, job.ID, &jl)
	start := time.Now()
	err = w.Processor.Process(ctx, job)
	stop()

	if err != nil {
		jl.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
	} else {
		jl.Info().Dur("duration", time.Since(start)).Msg("job done")
	}
	return true
}

func (w *Worker) heartbeat(ctx context.Context, id uint64, log *zerolog.Logger) func() {
	if w.HeartbeatInterval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(w.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if err := w.Repo.Heartbeat(hbCtx, id, w.ID); err != nil && hbCtx.Err() == nil {
					log.Warn().Err(err).Msg("heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
