package asr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"otonote/internal/command"
)

// Whisper runs the whisper.cpp CLI against a ggml model file.
type Whisper struct {
	Bin       string
	ModelPath string
	Runner    command.Runner
}

// NewWhisper resolves models/ggml-{model}.bin. A missing model file fails
// here, so the cache never holds an engine that cannot run.
func NewWhisper(bin, modelsDir, model string) (*Whisper, error) {
	if bin == "" {
		bin = "whisper-cli"
	}
	path, err := ModelPath(modelsDir, model)
	if err != nil {
		return nil, err
	}
	return &Whisper{Bin: bin, ModelPath: path, Runner: command.Exec{}}, nil
}

// ModelPath maps a model name (tiny, base, small, ...) to its ggml file.
// A name that already points at a file is used as is.
func ModelPath(dir, model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", fmt.Errorf("model name is required")
	}
	candidates := []string{
		filepath.Join(dir, "ggml-"+model+".bin"),
		filepath.Join(dir, model),
		model,
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("whisper model %q not found in %s", model, dir)
}

func (w *Whisper) Transcribe(ctx context.Context, clip, lang string) (string, error) {
	base := strings.TrimSuffix(clip, filepath.Ext(clip))
	args := whisperArgs(w.ModelPath, clip, base, lang)

	if _, err := w.Runner.Run(ctx, command.Cmd{Name: w.Bin, Args: args}); err != nil {
		return "", err
	}

	txt := base + ".txt"
	b, err := os.ReadFile(txt)
	if err != nil {
		return "", fmt.Errorf("whisper.cpp completed but transcript is missing: %w", err)
	}
	_ = os.Remove(txt)
	return strings.TrimSpace(joinLines(string(b))), nil
}

func whisperArgs(modelPath, clip, base, lang string) []string {
	args := []string{
		"-m", modelPath,
		"-f", clip,
		"-otxt",
		"-of", base,
		"-np",
	}
	if lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}

// joinLines folds whisper.cpp's per-segment lines into one utterance.
func joinLines(s string) string {
	var parts []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}
