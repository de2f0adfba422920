package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Category is the prefix of a stored error_message.
type Category string

const (
	CatCredential       Category = "CredentialError"
	CatConversion       Category = "ConversionError"
	CatDiarization      Category = "DiarizationError"
	CatEmptyDiarization Category = "EmptyDiarizationError"
	CatSlice            Category = "SliceError"
	CatTranscription    Category = "TranscriptionError"
	CatPersistence      Category = "PersistenceError"
	CatTimeout          Category = "TimeoutError"
	CatCanceled         Category = "CanceledError"
	CatPanic            Category = "Panic"
	CatInternal         Category = "InternalError"
)

// maxMessageLen keeps stored diagnostics bounded; command stderr can be long.
const maxMessageLen = 4000

var ErrNoIntervals = errors.New("diarization returned no speech intervals")

// StageError tags a failure with its category and the stage that raised it.
type StageError struct {
	Category Category
	Stage    string
	Err      error
}

func (e *StageError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Category, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func fail(cat Category, stage string, err error) error {
	return &StageError{Category: cat, Stage: stage, Err: err}
}

// FailureMessage renders err as "{category}: {detail}".
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	cat, detail := CatInternal, err.Error()

	var se *StageError
	switch {
	case errors.As(err, &se):
		cat = se.Category
		if se.Err != nil {
			detail = se.Err.Error()
		}
	case errors.Is(err, context.DeadlineExceeded):
		cat = CatTimeout
	case errors.Is(err, context.Canceled):
		cat = CatCanceled
	}

	// tool output may carry bytes a text column rejects
	detail = strings.ReplaceAll(strings.ToValidUTF8(detail, "\uFFFD"), "\x00", "")
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = "unknown failure"
	}
	msg := fmt.Sprintf("%s: %s", cat, detail)
	if len(msg) > maxMessageLen {
		msg = truncate(msg, maxMessageLen-3) + "..."
	}
	return msg
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// CategoryOf returns the category FailureMessage would use.
func CategoryOf(err error) Category {
	msg := FailureMessage(err)
	if i := strings.Index(msg, ":"); i > 0 {
		return Category(msg[:i])
	}
	return CatInternal
}
