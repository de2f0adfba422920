package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"otonote/internal/config"
	"otonote/internal/db"
	"otonote/internal/jobs"
	"otonote/internal/logging"
	"otonote/internal/metrics"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "worker", "requeue", "cleanup-orphans", "migrate"}
	for _, name := range want {
		if c, _, err := rootCmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestRequeueAndCleanup(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	dsn := "sqlite:" + filepath.Join(dir, "otonote.db")
	t.Setenv("DATABASE_URL", dsn)
	t.Setenv("MEDIA_ROOT", filepath.Join(dir, "media"))
	t.Setenv("LOG_LEVEL", "error")

	if out, err := execute(t, "migrate"); err != nil || !strings.Contains(out, "migrations applied") {
		t.Fatalf("migrate: %q %v", out, err)
	}

	gdb, err := db.Connect(dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if s, err := gdb.DB(); err == nil {
			_ = s.Close()
		}
	})
	repo := &jobs.Repo{DB: gdb}
	ctx := context.Background()

	input := filepath.Join(dir, "media", "input", "kept.wav")
	if err := os.MkdirAll(filepath.Dir(input), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{input, filepath.Join(filepath.Dir(input), "stray.wav")} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	j := jobs.New(input)
	if err := repo.Create(ctx, j); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "requeue", "abc"); err == nil {
		t.Fatal("expected invalid id error")
	}
	if _, err := execute(t, "requeue", "1"); err == nil {
		t.Fatal("queued job must not be requeued")
	}

	if _, err := repo.Claim(ctx, "w"); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkFailed(ctx, j.ID, "w", "DiarizationError: exit 1"); err != nil {
		t.Fatal(err)
	}
	if out, err := execute(t, "requeue", "1"); err != nil || !strings.Contains(out, "job 1 requeued") {
		t.Fatalf("requeue: %q %v", out, err)
	}

	out, err := execute(t, "cleanup-orphans", "--dry-run")
	if err != nil || !strings.Contains(out, "stray.wav") || !strings.Contains(out, "Kept (referenced) files: 1") {
		t.Fatalf("cleanup dry run: %q %v", out, err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(input), "stray.wav")); err != nil {
		t.Fatal("dry run deleted a file")
	}
}

func TestWorkersNeedDiarizationCredential(t *testing.T) {
	a := &app{cfg: config.Defaults(), log: logging.Nop()}
	if a.diarizationReady() {
		t.Fatal("workers must not start without HF_TOKEN")
	}
	a.cfg.Engines.HFToken = "hf_x"
	if !a.diarizationReady() {
		t.Fatal("workers should start with HF_TOKEN set")
	}
}

func TestMetricsServerExposesWorkerCollectors(t *testing.T) {
	metrics.MustRegister()
	metrics.IncClaimed()

	srv := newMetricsServer(":0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "otonote_jobs_claimed_total") {
		t.Fatalf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}
