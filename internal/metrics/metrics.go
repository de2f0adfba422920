package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	jobsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otonote_jobs_claimed_total",
			Help: "Jobs leased by a worker (queued -> running).",
		},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otonote_jobs_finished_total",
			Help: "Jobs that reached a terminal state, by status.",
		},
		[]string{"status"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otonote_stage_duration_seconds",
			Help:    "Duration of external pipeline stages.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180, 600, 1800},
		},
		[]string{"stage"},
	)

	segmentsTranscribed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otonote_segments_transcribed_total",
			Help: "Diarized intervals transcribed, by model.",
		},
		[]string{"model"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otonote_transcriber_cache_misses_total",
			Help: "Transcription engine initializations, by model.",
		},
		[]string{"model"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(jobsClaimed, jobsFinished, stageDuration, segmentsTranscribed, cacheMisses)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	MustRegister()
	return promhttp.Handler()
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncClaimed() { jobsClaimed.Inc() }

func IncFinished(status string) {
	jobsFinished.WithLabelValues(norm(status)).Inc()
}

func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(norm(stage)).Observe(d.Seconds())
}

func IncSegment(model string) {
	segmentsTranscribed.WithLabelValues(norm(model)).Inc()
}

func IncCacheMiss(model string) {
	cacheMisses.WithLabelValues(norm(model)).Inc()
}
