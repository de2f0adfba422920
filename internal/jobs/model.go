package jobs

import (
	"errors"
	"time"
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

const (
	DefaultModelName  = "small"
	DefaultLanguage   = "ja"
	DefaultSegmentSec = 600

	// LanguageAuto leaves language detection to the transcription engine.
	LanguageAuto = "auto"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrLeaseLost         = errors.New("job lease held by another worker")
)

type Job struct {
	ID     uint64  `gorm:"primaryKey"`
	UserID *uint64 `gorm:"index"`

	Status   Status `gorm:"type:text;index;not null"`
	Progress int    `gorm:"not null;default:0"`

	ModelName  string `gorm:"type:text;not null"`
	Language   string `gorm:"type:text;not null"`
	Diarize    bool   `gorm:"not null"`
	SegmentSec int    `gorm:"not null"`

	InputPath        string `gorm:"type:text;not null"`
	OriginalFilename string `gorm:"type:text;not null;default:''"`

	OutputText   string `gorm:"type:text;not null;default:''"`
	ErrorMessage string `gorm:"type:text;not null;default:''"`

	WorkerID    *string    `gorm:"type:text"`
	HeartbeatAt *time.Time `gorm:"index"`

	CreatedAt  time.Time `gorm:"index;not null"`
	UpdatedAt  time.Time `gorm:"not null"`
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// New returns a queued job with the upload-path defaults applied.
func New(inputPath string) *Job {
	return &Job{
		Status:     StatusQueued,
		ModelName:  DefaultModelName,
		Language:   DefaultLanguage,
		Diarize:    true,
		SegmentSec: DefaultSegmentSec,
		InputPath:  inputPath,
	}
}

// LanguageHint returns the explicit language for the transcription engine,
// or "" when the engine should detect it.
func (j *Job) LanguageHint() string {
	if j.Language == "" || j.Language == LanguageAuto {
		return ""
	}
	return j.Language
}

// Holder returns the worker ID of the current lease, or "".
func (j *Job) Holder() string {
	if j.WorkerID == nil {
		return ""
	}
	return *j.WorkerID
}

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// CanTransition reports whether the core state machine allows from -> to.
// Requeue and stale-lease reclaim are operator edges and are not listed.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusDone || to == StatusError
	default:
		return false
	}
}
