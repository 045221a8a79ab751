package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/MimeLyc/subtitle-burner/internal/apperr"
	"github.com/MimeLyc/subtitle-burner/pkg/log"
)

// CommandResult is what an external tool left behind.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner runs an external program. A non-zero exit is reported in
// the result, not as an error; errors mean the program could not run.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

// ToolError is a non-zero exit of an external tool.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
}

// Burner renders subtitles into a video with ffmpeg.
type Burner struct {
	ffmpegCmd string
	runner    CommandRunner
}

type BurnerOption func(*Burner)

// WithRunner replaces the process runner, mainly for tests.
func WithRunner(r CommandRunner) BurnerOption {
	return func(b *Burner) {
		b.runner = r
	}
}

func NewBurner(ffmpegCmd string, opts ...BurnerOption) *Burner {
	if strings.TrimSpace(ffmpegCmd) == "" {
		ffmpegCmd = "ffmpeg"
	}
	b := &Burner{ffmpegCmd: ffmpegCmd, runner: execRunner{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Available reports whether the ffmpeg binary can be found.
func (b *Burner) Available() error {
	_, err := exec.LookPath(b.ffmpegCmd)
	return err
}

// BurnSubtitles writes output as input with srtPath rendered onto the
// picture. Audio is copied. An existing output is overwritten.
func (b *Burner) BurnSubtitles(ctx context.Context, input, srtPath, output string) error {
	args := burnArgs(input, srtPath, output)
	log.Debug("Running %s %s", b.ffmpegCmd, strings.Join(args, " "))

	res, err := b.runner.Run(ctx, b.ffmpegCmd, args...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperr.WrapError(ctxErr, apperr.ErrProcessing, "ffmpeg did not finish in time")
	}
	if err != nil {
		return apperr.WrapError(err, apperr.ErrProcessing, "failed to run ffmpeg")
	}
	if res.ExitCode != 0 {
		toolErr := &ToolError{Tool: "ffmpeg", ExitCode: res.ExitCode, Stderr: res.Stderr}
		return apperr.WrapError(toolErr, apperr.ErrProcessing, "FFmpeg failed")
	}
	return nil
}

func burnArgs(input, srtPath, output string) []string {
	return []string{
		"-i", input,
		"-vf", "subtitles='" + EscapeFilterPath(srtPath) + "'",
		"-c:a", "copy",
		"-y",
		output,
	}
}

// EscapeFilterPath makes a path safe inside a single-quoted ffmpeg filter
// argument: backslashes become forward slashes, colons are escaped and
// single quotes close, escape and reopen the quoting.
func EscapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.ReplaceAll(p, ":", `\:`)
	p = strings.ReplaceAll(p, "'", `'\''`)
	return p
}
