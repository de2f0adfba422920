// Package diarize segments a canonical waveform into speaker-labeled
// intervals.
package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"otonote/internal/command"
)

const (
	MinSpeakers = 2
	MaxSpeakers = 4
)

var ErrMissingCredential = errors.New("HF_TOKEN is missing")

// Interval is one speaker turn in seconds from the start of the waveform.
type Interval struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

func (iv Interval) Duration() float64 { return iv.End - iv.Start }

type Bounds struct {
	Min, Max int
}

// DefaultBounds is the speaker-count range used for every job.
var DefaultBounds = Bounds{Min: MinSpeakers, Max: MaxSpeakers}

// Engine is the diarization capability.
type Engine interface {
	// Preflight fails fast when the engine cannot run at all.
	Preflight() error
	Diarize(ctx context.Context, wav string, b Bounds) ([]Interval, error)
}

// Pyannote runs an external pyannote script that prints a JSON array of
// {speaker,start,end} objects on stdout.
type Pyannote struct {
	Command []string
	Token   string
	Runner  command.Runner
}

func NewPyannote(cmd []string, token string) *Pyannote {
	return &Pyannote{Command: cmd, Token: token, Runner: command.Exec{}}
}

func (p *Pyannote) Preflight() error {
	if strings.TrimSpace(p.Token) == "" {
		return ErrMissingCredential
	}
	if len(p.Command) == 0 {
		return errors.New("diarization command is not configured")
	}
	return nil
}

func (p *Pyannote) Diarize(ctx context.Context, wav string, b Bounds) ([]Interval, error) {
	if err := p.Preflight(); err != nil {
		return nil, err
	}
	if b.Min <= 0 || b.Max < b.Min {
		return nil, fmt.Errorf("invalid speaker bounds %d..%d", b.Min, b.Max)
	}

	args := append([]string{}, p.Command[1:]...)
	args = append(args,
		"--input", wav,
		"--min-speakers", strconv.Itoa(b.Min),
		"--max-speakers", strconv.Itoa(b.Max),
	)
	res, err := p.Runner.Run(ctx, command.Cmd{
		Name: p.Command[0],
		Args: args,
		Env:  []string{"HF_TOKEN=" + p.Token},
	})
	if err != nil {
		return nil, err
	}
	return Parse([]byte(res.Stdout))
}

// Parse decodes the script output. Progress chatter before the JSON array
// is ignored.
func Parse(out []byte) ([]Interval, error) {
	out = bytes.TrimSpace(out)
	if i := bytes.LastIndex(out, []byte("\n[")); i >= 0 {
		out = out[i+1:]
	}
	var ivs []Interval
	if err := json.Unmarshal(out, &ivs); err != nil {
		return nil, fmt.Errorf("decode diarization output: %w", err)
	}
	for i, iv := range ivs {
		if math.IsNaN(iv.Start) || math.IsNaN(iv.End) || math.IsInf(iv.Start, 0) || math.IsInf(iv.End, 0) {
			return nil, fmt.Errorf("interval %d: non-finite bounds", i)
		}
		if iv.Start < 0 || iv.End < iv.Start {
			return nil, fmt.Errorf("interval %d: bad bounds %.3f..%.3f", i, iv.Start, iv.End)
		}
		if iv.Speaker == "" {
			return nil, fmt.Errorf("interval %d: empty speaker label", i)
		}
	}
	return ivs, nil
}
