// Package pipeline drives one leased job through
// convert -> diarize -> slice -> transcribe -> aggregate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"otonote/internal/asr"
	"otonote/internal/audio"
	"otonote/internal/config"
	"otonote/internal/diarize"
	"otonote/internal/jobs"
	"otonote/internal/metrics"
)

// Store is the part of jobs.Repo the orchestrator writes through. Every
// write is scoped to the lease holder.
type Store interface {
	UpdateProgress(ctx context.Context, id uint64, workerID string, progress int) error
	MarkDone(ctx context.Context, id uint64, workerID, output string) error
	MarkFailed(ctx context.Context, id uint64, workerID, msg string) error
}

const finalizeTimeout = 10 * time.Second

type Orchestrator struct {
	Store     Store
	Converter audio.Converter
	Diarizer  diarize.Engine
	Engines   *asr.Cache
	Cfg       config.PipelineConfig
	Log       *zerolog.Logger
}

var _ jobs.Processor = (*Orchestrator)(nil)

// Process runs the pipeline and records exactly one terminal state. The
// returned error is the pipeline failure, if any.
func (o *Orchestrator) Process(ctx context.Context, job *jobs.Job) error {
	log := o.logger().With().Uint64("job_id", job.ID).Logger()

	out, runErr := o.safeRun(ctx, job, &log)

	// terminal writes must land even when the worker is shutting down
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if runErr == nil {
		if err := o.Store.MarkDone(fctx, job.ID, job.Holder(), out); err != nil {
			runErr = fail(CatPersistence, "finalize", err)
		} else {
			metrics.IncFinished(string(jobs.StatusDone))
			return nil
		}
	}

	if errors.Is(runErr, jobs.ErrLeaseLost) {
		// the row belongs to the new holder now
		log.Warn().Err(runErr).Str("worker_id", job.Holder()).Msg("lease lost, dropping result")
		return runErr
	}

	msg := FailureMessage(runErr)
	if err := o.Store.MarkFailed(fctx, job.ID, job.Holder(), msg); err != nil {
		log.Error().Err(err).Str("error_message", msg).Msg("could not record job failure")
		return errors.Join(runErr, err)
	}
	metrics.IncFinished(string(jobs.StatusError))
	return runErr
}

func (o *Orchestrator) safeRun(ctx context.Context, job *jobs.Job, log *zerolog.Logger) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("pipeline panic")
			out, err = "", fail(CatPanic, "", fmt.Errorf("%v", r))
		}
	}()
	return o.run(ctx, job, log)
}

func (o *Orchestrator) run(ctx context.Context, job *jobs.Job, log *zerolog.Logger) (string, error) {
	diarizeOn := !o.Cfg.HonorDiarizeFlag || job.Diarize

	if diarizeOn {
		if err := o.Diarizer.Preflight(); err != nil {
			return "", fail(CatCredential, "preflight", err)
		}
	}

	wd := NewWorkDir(job.InputPath, job.ID)
	if err := wd.Create(); err != nil {
		return "", fail(CatConversion, "workdir", err)
	}
	if !o.Cfg.KeepWorkDir {
		defer func() {
			if err := wd.Remove(); err != nil {
				log.Warn().Err(err).Str("dir", wd.Dir).Msg("remove work dir")
			}
		}()
	}

	wav := wd.Canonical()
	err := o.stage(ctx, "convert", o.Cfg.ConvertTimeout, CatConversion, func(ctx context.Context) error {
		return o.Converter.Normalize(ctx, job.InputPath, wav)
	})
	if err != nil {
		return "", err
	}

	if !diarizeOn {
		return o.transcribeWhole(ctx, job, wav)
	}

	var raw []diarize.Interval
	err = o.stage(ctx, "diarize", o.Cfg.DiarizeTimeout, CatDiarization, func(ctx context.Context) error {
		var err error
		raw, err = o.Diarizer.Diarize(ctx, wav, diarize.DefaultBounds)
		return err
	})
	if err != nil {
		return "", err
	}

	ivs := Merge(SortByStart(raw), o.Cfg.MergeGapSec, o.Cfg.MergeMinDurSec)
	ivs, dropped := dropEmpty(ivs)
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("skipped zero-length intervals")
	}
	total := len(ivs)
	if total == 0 {
		return "", fail(CatEmptyDiarization, "diarize", ErrNoIntervals)
	}
	log.Info().Int("intervals", total).Int("raw_intervals", len(raw)).Msg("diarization done")

	engine, err := o.Engines.Get(ctx, job.ModelName)
	if err != nil {
		return "", fail(CatTranscription, "load model", err)
	}
	lang := job.LanguageHint()

	lines := make([]string, 0, total)
	for i, iv := range ivs {
		clip := wd.Segment(i)
		err := o.stage(ctx, "slice", o.Cfg.ConvertTimeout, CatSlice, func(ctx context.Context) error {
			return o.Converter.Slice(ctx, wav, iv.Start, iv.Duration(), clip)
		})
		if err != nil {
			return "", err
		}

		var text string
		err = o.stage(ctx, "transcribe", o.Cfg.TranscribeTimeout, CatTranscription, func(ctx context.Context) error {
			var err error
			text, err = engine.Transcribe(ctx, clip, lang)
			return err
		})
		if err != nil {
			return "", err
		}
		metrics.IncSegment(job.ModelName)

		lines = append(lines, FormatLine(iv.Speaker, text))

		// 100 is committed by MarkDone together with the output
		p := min(jobs.Progress(i+1, total), 99)
		if err := o.Store.UpdateProgress(ctx, job.ID, job.Holder(), p); err != nil {
			return "", fail(CatPersistence, "progress", err)
		}
	}

	return strings.Join(lines, "\n"), nil
}

// transcribeWhole handles jobs that opted out of diarization: the whole
// canonical waveform is transcribed once and stored as plain text.
func (o *Orchestrator) transcribeWhole(ctx context.Context, job *jobs.Job, wav string) (string, error) {
	engine, err := o.Engines.Get(ctx, job.ModelName)
	if err != nil {
		return "", fail(CatTranscription, "load model", err)
	}
	var text string
	err = o.stage(ctx, "transcribe", o.Cfg.TranscribeTimeout, CatTranscription, func(ctx context.Context) error {
		var err error
		text, err = engine.Transcribe(ctx, wav, job.LanguageHint())
		return err
	})
	if err != nil {
		return "", err
	}
	metrics.IncSegment(job.ModelName)
	return strings.TrimSpace(text), nil
}

// stage runs fn under an optional timeout and classifies its failure.
func (o *Orchestrator) stage(ctx context.Context, name string, timeout time.Duration, cat Category, fn func(context.Context) error) error {
	sctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	start := time.Now()
	err := fn(sctx)
	metrics.ObserveStage(name, time.Since(start))
	if err == nil {
		return nil
	}

	switch {
	case ctx.Err() != nil:
		return fail(CatCanceled, name, err)
	case errors.Is(sctx.Err(), context.DeadlineExceeded):
		return fail(CatTimeout, name, fmt.Errorf("%s exceeded %s: %w", name, timeout, err))
	}
	return fail(cat, name, err)
}

func (o *Orchestrator) logger() *zerolog.Logger {
	if o.Log != nil {
		return o.Log
	}
	nop := zerolog.Nop()
	return &nop
}

// FormatLine renders one transcript line.
func FormatLine(speaker, text string) string {
	return fmt.Sprintf("[%s]: %s", speaker, strings.TrimSpace(text))
}
