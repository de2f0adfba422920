package diarize

import (
	"context"
	"errors"
	"slices"
	"testing"

	"otonote/internal/command"
)

func TestPreflightRequiresToken(t *testing.T) {
	p := NewPyannote([]string{"python3", "diarize.py"}, "  ")
	if err := p.Preflight(); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("Preflight() error = %v", err)
	}
	p.Token = "hf_x"
	if err := p.Preflight(); err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}
}

func TestDiarizeInvokesScript(t *testing.T) {
	var got command.Cmd
	p := &Pyannote{
		Command: []string{"python3", "scripts/diarize.py"},
		Token:   "hf_secret",
		Runner: command.RunnerFunc(func(_ context.Context, c command.Cmd) (command.Result, error) {
			got = c
			return command.Result{Stdout: "loading pipeline\n" +
				`[{"speaker":"SPEAKER_00","start":0.5,"end":2.0},{"speaker":"SPEAKER_01","start":2.0,"end":3.25}]`}, nil
		}),
	}

	ivs, err := p.Diarize(context.Background(), "/w/audio_16k.wav", DefaultBounds)
	if err != nil {
		t.Fatalf("Diarize() error = %v", err)
	}
	if got.Name != "python3" {
		t.Fatalf("name = %q", got.Name)
	}
	wantArgs := []string{"scripts/diarize.py", "--input", "/w/audio_16k.wav", "--min-speakers", "2", "--max-speakers", "4"}
	if !slices.Equal(got.Args, wantArgs) {
		t.Fatalf("args = %v", got.Args)
	}
	if !slices.Contains(got.Env, "HF_TOKEN=hf_secret") {
		t.Fatalf("env = %v", got.Env)
	}
	if len(ivs) != 2 || ivs[1].Speaker != "SPEAKER_01" || ivs[1].Duration() != 1.25 {
		t.Fatalf("intervals = %+v", ivs)
	}
}

func TestDiarizeWithoutTokenDoesNotRun(t *testing.T) {
	p := &Pyannote{
		Command: []string{"python3", "x.py"},
		Runner: command.RunnerFunc(func(context.Context, command.Cmd) (command.Result, error) {
			t.Fatal("script must not run without a credential")
			return command.Result{}, nil
		}),
	}
	if _, err := p.Diarize(context.Background(), "a.wav", DefaultBounds); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("error = %v", err)
	}
}

func TestParse(t *testing.T) {
	ivs, err := Parse([]byte("[]"))
	if err != nil || len(ivs) != 0 {
		t.Fatalf("Parse([]) = %v, %v", ivs, err)
	}

	bad := []string{
		`not json`,
		`[{"speaker":"A","start":2,"end":1}]`,
		`[{"speaker":"","start":0,"end":1}]`,
		`[{"speaker":"A","start":-1,"end":1}]`,
	}
	for _, in := range bad {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q) expected error", in)
		}
	}
}
