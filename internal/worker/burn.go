package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MimeLyc/subtitle-burner/internal/apperr"
	"github.com/MimeLyc/subtitle-burner/internal/jobs"
	"github.com/MimeLyc/subtitle-burner/internal/media"
	"github.com/MimeLyc/subtitle-burner/internal/subtitle"
	"github.com/MimeLyc/subtitle-burner/pkg/file"
	"github.com/MimeLyc/subtitle-burner/pkg/log"
)

// OutputSuffix is inserted before the extension of a burned video.
const OutputSuffix = "_with_subtitles"

const (
	msgDownloading = "Downloading SRT file"
	msgProcessing  = "Processing video with subtitles"
	msgRunning     = "Running FFmpeg"
	msgCompleted   = "Video processed successfully"
	msgFFmpegError = "Error: FFmpeg failed"
)

// JobStore is the part of the job tracker a worker writes through.
type JobStore interface {
	GetVideo(ctx context.Context, transcriptID string) (*jobs.VideoFile, error)
	UpdateJob(ctx context.Context, jobID string, update jobs.JobUpdate) error
}

type ArtifactFetcher interface {
	FetchSubtitleArtifact(ctx context.Context, transcriptID string) (string, error)
}

type SubtitleBurner interface {
	BurnSubtitles(ctx context.Context, input, srtPath, output string) error
}

type Config struct {
	// TempDir holds the per-job subtitle file.
	TempDir string
	// Timeout bounds one job; zero means no limit.
	Timeout time.Duration
}

// Worker runs the subtitle-burn workflow for one job at a time per call.
type Worker struct {
	cfg     Config
	store   JobStore
	fetcher ArtifactFetcher
	burner  SubtitleBurner
}

func New(cfg Config, store JobStore, fetcher ArtifactFetcher, burner SubtitleBurner) *Worker {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Worker{cfg: cfg, store: store, fetcher: fetcher, burner: burner}
}

// OutputPath is where the burned copy of original is written.
func OutputPath(original string) string {
	return file.InsertSuffix(original, OutputSuffix)
}

// Process drives job to completed or error. Every failure, including a
// panic, is recorded on the job row; the returned error only mirrors it.
func (w *Worker) Process(ctx context.Context, job jobs.VideoJob) (err error) {
	// The final status write must land even when the job ran out of time.
	record := context.WithoutCancel(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("burn job panicked: %v", rec)
			w.fail(record, job.JobID, "Error: "+err.Error(), err.Error())
		}
	}()

	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	log.Info("Processing job %s for transcript %s", job.JobID, job.TranscriptID)

	video, err := w.store.GetVideo(ctx, job.TranscriptID)
	if err != nil {
		log.Error("Video info for %s not found: %v", job.TranscriptID, err)
		w.fail(record, job.JobID, "Error: video file not found", apperr.Message(err))
		return err
	}

	if err := w.progress(ctx, job.JobID, jobs.StatusDownloadingSRT, 10, msgDownloading); err != nil {
		return w.failWith(record, job.JobID, err)
	}

	srtPath, err := w.downloadSubtitles(ctx, job)
	if err != nil {
		return w.failWith(record, job.JobID, err)
	}
	defer removeTemp(srtPath)

	if err := w.progress(ctx, job.JobID, jobs.StatusProcessing, 30, msgProcessing); err != nil {
		return w.failWith(record, job.JobID, err)
	}

	output := OutputPath(video.OriginalPath)
	if err := w.progress(ctx, job.JobID, jobs.StatusProcessing, 50, msgRunning); err != nil {
		return w.failWith(record, job.JobID, err)
	}

	// ffmpeg renders into a job-scoped file; the shared output path only
	// changes once a render succeeds.
	staging := stagingPath(output, job.JobID)
	if err := w.burner.BurnSubtitles(ctx, video.OriginalPath, srtPath, staging); err != nil {
		removePartial(staging)
		var toolErr *media.ToolError
		if errors.As(err, &toolErr) {
			log.Error("FFmpeg failed for job %s (exit %d): %s", job.JobID, toolErr.ExitCode, toolErr.Stderr)
			w.fail(record, job.JobID, msgFFmpegError, toolErr.Stderr)
			return err
		}
		return w.failWith(record, job.JobID, err)
	}
	if err := os.Rename(staging, output); err != nil {
		removePartial(staging)
		return w.failWith(record, job.JobID,
			apperr.WrapError(err, apperr.ErrStorage, "failed to move rendered video into place"))
	}

	if err := w.store.UpdateJob(record, job.JobID, jobs.JobUpdate{
		Status:     jobs.StatusCompleted,
		Message:    msgCompleted,
		Progress:   100,
		OutputPath: &output,
	}); err != nil {
		log.Error("Failed to complete job %s: %v", job.JobID, err)
		return err
	}

	log.Info("Job %s completed: %s", job.JobID, output)
	return nil
}

// downloadSubtitles stores the transcript SRT as {tempDir}/{job_id}.srt.
func (w *Worker) downloadSubtitles(ctx context.Context, job jobs.VideoJob) (string, error) {
	srt, err := w.fetcher.FetchSubtitleArtifact(ctx, job.TranscriptID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(w.cfg.TempDir, 0o755); err != nil {
		return "", apperr.WrapError(err, apperr.ErrStorage, "failed to create temp dir")
	}
	srtPath := filepath.Join(w.cfg.TempDir, job.JobID+".srt")
	if err := os.WriteFile(srtPath, []byte(srt), 0o644); err != nil {
		return "", apperr.WrapError(err, apperr.ErrStorage, "failed to write subtitle file")
	}

	describe(job.JobID, srtPath)
	return srtPath, nil
}

// describe logs what the artifact contains; it never fails the job.
func describe(jobID, srtPath string) {
	parsed, err := subtitle.ReadFile(srtPath)
	if err != nil {
		log.Warn("Job %s: subtitle artifact did not parse: %v", jobID, err)
		return
	}
	log.Info("Job %s: %d cues, language %s, duration %s",
		jobID, len(parsed.Cues), parsed.Language, parsed.Duration())
}

func (w *Worker) progress(ctx context.Context, jobID string, status jobs.Status, pct int, message string) error {
	return w.store.UpdateJob(ctx, jobID, jobs.JobUpdate{
		Status:   status,
		Message:  message,
		Progress: pct,
	})
}

func (w *Worker) failWith(ctx context.Context, jobID string, err error) error {
	msg := apperr.Message(err)
	log.Error("Error processing job %s: %s", jobID, msg)
	w.fail(ctx, jobID, "Error: "+msg, msg)
	return err
}

func (w *Worker) fail(ctx context.Context, jobID, message, detail string) {
	if err := w.store.UpdateJob(ctx, jobID, jobs.JobUpdate{
		Status:   jobs.StatusError,
		Message:  message,
		Progress: 0,
		Error:    &detail,
	}); err != nil {
		log.Error("Failed to record error for job %s: %v", jobID, err)
	}
}

// stagingPath keeps the extension so ffmpeg still picks the container.
func stagingPath(output, jobID string) string {
	return file.InsertSuffix(output, ".part-"+jobID)
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to remove temp subtitle file %s: %v", path, err)
	}
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to remove partial output %s: %v", path, err)
	}
}
