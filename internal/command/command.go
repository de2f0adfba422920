// Package command runs external tools (ffmpeg, whisper.cpp, the diarization
// script) and keeps their output around for failure messages.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// Cmd is one external invocation.
type Cmd struct {
	Name string
	Args []string
	// Env is appended to the current process environment.
	Env []string
	Dir string
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, c Cmd) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, c Cmd) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, c Cmd) (Result, error) { return f(ctx, c) }

// Error is returned when a command exits non-zero or cannot start.
type Error struct {
	Cmd    Cmd
	Result Result
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("command failed (cmd=%s exit=%d)", e.Cmd.Name, e.Result.ExitCode)
	if tail := Tail(e.Result.Stderr, 800); tail != "" {
		msg += ": " + tail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Exec runs commands via os/exec.
type Exec struct{}

func (Exec) Run(ctx context.Context, c Cmd) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	// a killed process reports the context error, not the signal
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return res, &Error{Cmd: c, Result: res, Err: err}
}

// Tail returns at most the last n bytes of s, trimmed, starting on a rune
// boundary.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
