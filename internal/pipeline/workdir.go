package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// WorkDir is the per-job scratch directory next to the input artifact.
type WorkDir struct {
	Dir string
}

func NewWorkDir(inputPath string, jobID uint64) WorkDir {
	return WorkDir{Dir: filepath.Join(filepath.Dir(inputPath), fmt.Sprintf("job_%d_chunks", jobID))}
}

func (w WorkDir) Create() error { return os.MkdirAll(w.Dir, 0o755) }

func (w WorkDir) Remove() error { return os.RemoveAll(w.Dir) }

// Canonical is the normalized 16 kHz mono waveform.
func (w WorkDir) Canonical() string { return filepath.Join(w.Dir, "audio_16k.wav") }

// Segment is the clip path for the i-th (0-based) interval in sorted order.
func (w WorkDir) Segment(i int) string {
	return filepath.Join(w.Dir, fmt.Sprintf("seg_%03d.wav", i+1))
}
