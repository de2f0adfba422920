package jobs

import "testing"

func TestNewAppliesDefaults(t *testing.T) {
	j := New("/media/input/a.wav")
	if j.Status != StatusQueued || j.Progress != 0 {
		t.Fatalf("status/progress = %s/%d", j.Status, j.Progress)
	}
	if j.ModelName != "small" || j.Language != "ja" || !j.Diarize || j.SegmentSec != 600 {
		t.Fatalf("defaults = %+v", j)
	}
	if j.StartedAt != nil || j.FinishedAt != nil {
		t.Fatal("timestamps must be nil for a queued job")
	}
}

func TestLanguageHint(t *testing.T) {
	j := New("x")
	j.Language = "auto"
	if h := j.LanguageHint(); h != "" {
		t.Fatalf("auto hint = %q", h)
	}
	j.Language = ""
	if h := j.LanguageHint(); h != "" {
		t.Fatalf("empty hint = %q", h)
	}
	j.Language = "en"
	if h := j.LanguageHint(); h != "en" {
		t.Fatalf("hint = %q", h)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusQueued, StatusRunning}: true,
		{StatusRunning, StatusDone}:   true,
		{StatusRunning, StatusError}:  true,
	}
	all := []Status{StatusQueued, StatusRunning, StatusDone, StatusError}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
	if !StatusDone.Terminal() || !StatusError.Terminal() || StatusRunning.Terminal() {
		t.Fatal("Terminal() mismatch")
	}
}
