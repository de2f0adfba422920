package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type fakeLeaser struct {
	mu         sync.Mutex
	queue      []*Job
	claims     []string
	heartbeats int
	reclaims   int
	claimErr   error
}

func (f *fakeLeaser) Claim(_ context.Context, workerID string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, workerID)
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	j := f.queue[0]
	f.queue = f.queue[1:]
	j.Status = StatusRunning
	return j, nil
}

func (f *fakeLeaser) Heartbeat(context.Context, uint64, string) error {
	f.mu.Lock()
	f.heartbeats++
	f.mu.Unlock()
	return nil
}

func (f *fakeLeaser) ReclaimStale(context.Context, time.Duration) (int64, error) {
	f.mu.Lock()
	f.reclaims++
	f.mu.Unlock()
	return 0, nil
}

type processorFunc func(ctx context.Context, j *Job) error

func (p processorFunc) Process(ctx context.Context, j *Job) error { return p(ctx, j) }

func TestWorkerStepProcessesOneJob(t *testing.T) {
	l := &fakeLeaser{queue: []*Job{{ID: 1}, {ID: 2}}}
	var seen []uint64
	w := &Worker{
		ID:   "w1",
		Repo: l,
		Processor: processorFunc(func(_ context.Context, j *Job) error {
			seen = append(seen, j.ID)
			return nil
		}),
	}
	log := nopLogger()

	if !w.step(context.Background(), log) {
		t.Fatal("step() = false, want true")
	}
	if !w.step(context.Background(), log) {
		t.Fatal("second step() = false, want true")
	}
	if w.step(context.Background(), log) {
		t.Fatal("step() on empty queue = true")
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("processed = %v", seen)
	}
	if l.reclaims != 0 {
		t.Fatalf("reclaims = %d with no lease timeout", l.reclaims)
	}
}

func TestWorkerStepClaimErrorBacksOff(t *testing.T) {
	l := &fakeLeaser{claimErr: errors.New("db down")}
	w := &Worker{ID: "w1", Repo: l, Processor: processorFunc(func(context.Context, *Job) error {
		t.Fatal("processor must not run")
		return nil
	})}
	if w.step(context.Background(), nopLogger()) {
		t.Fatal("step() = true on claim error")
	}
}

func TestWorkerReclaimsWhenLeaseTimeoutSet(t *testing.T) {
	l := &fakeLeaser{}
	w := &Worker{ID: "w1", Repo: l, LeaseTimeout: time.Minute,
		Processor: processorFunc(func(context.Context, *Job) error { return nil })}
	w.step(context.Background(), nopLogger())
	if l.reclaims != 1 {
		t.Fatalf("reclaims = %d, want 1", l.reclaims)
	}
}

func TestWorkerHeartbeatsWhileProcessing(t *testing.T) {
	l := &fakeLeaser{queue: []*Job{{ID: 5}}}
	w := &Worker{
		ID:                "w1",
		Repo:              l,
		HeartbeatInterval: 5 * time.Millisecond,
		Processor: processorFunc(func(context.Context, *Job) error {
			time.Sleep(40 * time.Millisecond)
			return errors.New("TranscriptionError: boom")
		}),
	}
	w.step(context.Background(), nopLogger())

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.heartbeats == 0 {
		t.Fatal("expected at least one heartbeat")
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	l := &fakeLeaser{queue: []*Job{{ID: 1}}}
	processed := make(chan uint64, 1)
	w := &Worker{
		ID:           "w1",
		Repo:         l,
		PollInterval: 10 * time.Millisecond,
		Processor: processorFunc(func(_ context.Context, j *Job) error {
			processed <- j.ID
			return nil
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case id := <-processed:
		if id != 1 {
			t.Fatalf("processed id = %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job not processed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
