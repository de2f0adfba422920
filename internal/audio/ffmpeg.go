package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"otonote/internal/command"
)

// Converter produces the canonical waveform and per-interval clips.
type Converter interface {
	Normalize(ctx context.Context, in, out string) error
	Slice(ctx context.Context, wav string, start, dur float64, out string) error
}

// FFmpeg implements Converter with the ffmpeg CLI.
type FFmpeg struct {
	Bin    string
	Runner command.Runner
}

func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{Bin: bin, Runner: command.Exec{}}
}

// Normalize converts any input container to 16 kHz mono PCM WAV.
func (f *FFmpeg) Normalize(ctx context.Context, in, out string) error {
	if _, err := os.Stat(in); err != nil {
		return fmt.Errorf("cannot access input: %w", err)
	}
	return f.run(ctx, normalizeArgs(in, out), out)
}

// Slice cuts [start, start+dur) seconds out of wav.
func (f *FFmpeg) Slice(ctx context.Context, wav string, start, dur float64, out string) error {
	if dur <= 0 {
		return fmt.Errorf("non-positive clip duration %.3f", dur)
	}
	return f.run(ctx, sliceArgs(wav, start, dur, out), out)
}

func (f *FFmpeg) run(ctx context.Context, args []string, out string) error {
	if _, err := f.Runner.Run(ctx, command.Cmd{Name: f.Bin, Args: args}); err != nil {
		return err
	}
	if _, err := os.Stat(out); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("ffmpeg completed but %s is missing", out)
		}
		return err
	}
	return nil
}

func normalizeArgs(in, out string) []string {
	return []string{
		"-y", "-hide_banner",
		"-loglevel", "error",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		out,
	}
}

func sliceArgs(wav string, start, dur float64, out string) []string {
	return []string{
		"-y", "-hide_banner",
		"-loglevel", "error",
		"-ss", seconds(start),
		"-t", seconds(dur),
		"-i", wav,
		"-ac", "1",
		"-ar", "16000",
		out,
	}
}

func seconds(v float64) string {
	if v < 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}
