package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-burner/internal/apperr"
	"github.com/MimeLyc/subtitle-burner/internal/config"
	"github.com/MimeLyc/subtitle-burner/internal/jobs"
	"github.com/MimeLyc/subtitle-burner/internal/media"
	"github.com/MimeLyc/subtitle-burner/internal/transcription"
	"github.com/MimeLyc/subtitle-burner/internal/worker"
	"github.com/MimeLyc/subtitle-burner/pkg/file"
	"github.com/MimeLyc/subtitle-burner/pkg/log"
	"github.com/google/uuid"
)

const (
	msgUploaded      = "File uploaded and transcription started"
	fallbackDownload = "video_with_subtitles.mp4"
)

// Store is the persistence the service needs; Ping backs the health check.
type Store interface {
	jobs.Store
	Ping(ctx context.Context) error
}

// Burner renders subtitles and can tell whether its tool is installed.
type Burner interface {
	worker.SubtitleBurner
	Available() error
}

// Service is the application context: every request handler and background
// task reaches the store, the remote client and the runner through it.
type Service struct {
	cfg     config.Config
	store   Store
	tracker *jobs.Tracker
	client  *transcription.Client
	burner  Burner
	runner  *jobs.Runner
	worker  *worker.Worker
	now     func() time.Time
}

type Option func(*Service)

// WithBurner replaces the ffmpeg burner.
func WithBurner(b Burner) Option {
	return func(s *Service) {
		s.burner = b
	}
}

func New(cfg config.Config, store Store, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		store:   store,
		tracker: jobs.NewTracker(store),
		client: transcription.NewClient(transcription.Config{
			APIKey:    cfg.Transcription.APIKey,
			BaseURL:   cfg.Transcription.APIURL,
			Timeout:   cfg.Transcription.Timeout,
			Languages: cfg.Transcription.Languages,
			RateLimit: cfg.Transcription.RateLimit,
			RateBurst: cfg.Transcription.RateBurst,
		}),
		burner: media.NewBurner(cfg.Media.FFmpegPath),
		runner: jobs.NewRunner(cfg.Worker.Concurrency),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.worker = worker.New(worker.Config{
		TempDir: cfg.Storage.TempDir,
		Timeout: cfg.Media.BurnTimeout,
	}, s.tracker, s.client, s.burner)
	return s
}

// UploadRequest is one client upload.
type UploadRequest struct {
	Filename string
	Body     io.Reader
	// Language is an optional hint forwarded when whitelisted.
	Language string
}

type UploadResult struct {
	Message      string `json:"message"`
	UploadURL    string `json:"upload_url"`
	TranscriptID string `json:"transcript_id"`
	Status       string `json:"status"`
}

// Upload stores the video, sends it to the transcription service and
// records it under the returned transcript id.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if !s.client.Configured() {
		return nil, missingKey()
	}
	filename := sanitizeFilename(req.Filename)
	if filename == "" {
		return nil, apperr.NewError(apperr.ErrValidation, "empty file name")
	}
	if req.Body == nil {
		return nil, apperr.NewError(apperr.ErrValidation, "no file sent")
	}

	path, err := s.saveUpload(filename, req.Body)
	if err != nil {
		return nil, err
	}
	log.Info("Stored upload %s at %s", filename, path)

	result, err := s.transcribe(ctx, path, req.Language)
	if err != nil {
		discardUpload(path)
		return nil, err
	}

	if err := s.tracker.RegisterVideo(ctx, jobs.VideoFile{
		TranscriptID: result.TranscriptID,
		OriginalPath: path,
		Filename:     filename,
		UploadedAt:   s.now(),
	}); err != nil {
		discardUpload(path)
		return nil, err
	}

	log.Info("Transcription %s started for %s", result.TranscriptID, filename)
	return result, nil
}

func (s *Service) transcribe(ctx context.Context, path, language string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.WrapError(err, apperr.ErrStorage, "failed to reopen upload")
	}
	defer f.Close()

	uploadURL, err := s.client.Upload(ctx, f)
	if err != nil {
		return nil, err
	}
	submitted, err := s.client.Submit(ctx, uploadURL, transcription.SubmitOptions{LanguageHint: language})
	if err != nil {
		return nil, err
	}
	return &UploadResult{
		Message:      msgUploaded,
		UploadURL:    uploadURL,
		TranscriptID: submitted.TranscriptID,
		Status:       submitted.Status,
	}, nil
}

// saveUpload writes body to UPLOAD_DIR/<uuid>/<filename> so equal client
// names never collide.
func (s *Service) saveUpload(filename string, body io.Reader) (string, error) {
	dir, err := filepath.Abs(filepath.Join(s.cfg.Storage.UploadDir, uuid.New().String()))
	if err != nil {
		return "", apperr.WrapError(err, apperr.ErrStorage, "failed to resolve upload dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.WrapError(err, apperr.ErrStorage, "failed to create upload dir")
	}

	path := filepath.Join(dir, filename)
	out, err := os.Create(path)
	if err != nil {
		return "", apperr.WrapError(err, apperr.ErrStorage, "failed to create upload file")
	}
	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		discardUpload(path)
		return "", apperr.WrapError(err, apperr.ErrStorage, "failed to store upload")
	}
	if err := out.Close(); err != nil {
		discardUpload(path)
		return "", apperr.WrapError(err, apperr.ErrStorage, "failed to store upload")
	}
	return path, nil
}

func discardUpload(path string) {
	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		log.Warn("Failed to remove upload %s: %v", path, err)
	}
}

// sanitizeFilename keeps only the base name a client sent.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}

// TranscriptStatus returns the remote transcript document unchanged.
func (s *Service) TranscriptStatus(ctx context.Context, transcriptID string) (json.RawMessage, error) {
	if strings.TrimSpace(transcriptID) == "" {
		return nil, apperr.NewError(apperr.ErrValidation, "transcript_id is required")
	}
	return s.client.PollStatus(ctx, transcriptID)
}

// StartBurn creates a job and hands it to the runner; it does not wait.
func (s *Service) StartBurn(ctx context.Context, transcriptID string) (*jobs.VideoJob, error) {
	if !s.client.Configured() {
		return nil, missingKey()
	}
	job, err := s.tracker.CreateJob(ctx, transcriptID)
	if err != nil {
		return nil, err
	}

	snapshot := *job
	if _, err := s.runner.Spawn(job.JobID, func(taskCtx context.Context) error {
		return s.worker.Process(taskCtx, snapshot)
	}); err != nil {
		msg := fmt.Sprintf("failed to start processing: %v", err)
		if uerr := s.tracker.UpdateJob(ctx, job.JobID, jobs.JobUpdate{
			Status: jobs.StatusError, Message: "Error: " + msg, Error: &msg,
		}); uerr != nil {
			log.Error("Failed to record spawn failure for job %s: %v", job.JobID, uerr)
		}
		return nil, apperr.WrapError(err, apperr.ErrProcessing, "failed to start processing")
	}

	log.Info("Job %s started for transcript %s", job.JobID, transcriptID)
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*jobs.VideoJob, error) {
	return s.tracker.GetJob(ctx, jobID)
}

func (s *Service) LatestJob(ctx context.Context, transcriptID string) (*jobs.VideoJob, error) {
	return s.tracker.GetLatestJobForTranscript(ctx, transcriptID)
}

// Download is a finished video ready to send.
type Download struct {
	Path string
	Name string
}

// ResultFile resolves the burned video of a completed job.
func (s *Service) ResultFile(ctx context.Context, jobID string) (*Download, error) {
	job, err := s.tracker.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusCompleted || job.OutputPath == nil {
		return nil, apperr.NewError(apperr.ErrNotReady, "video is not ready yet").
			WithContext("status", job.Status)
	}
	if _, err := os.Stat(*job.OutputPath); err != nil {
		return nil, apperr.WrapError(err, apperr.ErrNotFound, "video file not found")
	}

	name := fallbackDownload
	if video, err := s.tracker.GetVideo(ctx, job.TranscriptID); err == nil && video.Filename != "" {
		name = file.InsertSuffix(video.Filename, worker.OutputSuffix)
	}
	return &Download{Path: *job.OutputPath, Name: name}, nil
}

// SubtitleText fetches the transcript rendered as SRT.
func (s *Service) SubtitleText(ctx context.Context, transcriptID string) (string, error) {
	if strings.TrimSpace(transcriptID) == "" {
		return "", apperr.NewError(apperr.ErrValidation, "transcript_id is required")
	}
	return s.client.FetchSubtitleArtifact(ctx, transcriptID)
}

// RecoverInterrupted fails jobs a previous process left running.
func (s *Service) RecoverInterrupted(ctx context.Context) error {
	n, err := s.tracker.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Warn("Marked %d interrupted job(s) as failed", n)
	}
	return nil
}

// Health is a liveness snapshot.
type Health struct {
	Status                  string `json:"status"`
	Database                bool   `json:"database"`
	FFmpeg                  bool   `json:"ffmpeg"`
	TranscriptionConfigured bool   `json:"transcription_configured"`
	ActiveJobs              int    `json:"active_jobs"`
}

func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Status:                  "ok",
		Database:                s.store.Ping(ctx) == nil,
		FFmpeg:                  s.burner.Available() == nil,
		TranscriptionConfigured: s.client.Configured(),
		ActiveJobs:              s.runner.Active(),
	}
	if !h.Database {
		h.Status = "degraded"
	}
	return h
}

// Shutdown stops accepting burns and waits for running ones.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.runner.Shutdown(ctx)
}

func missingKey() error {
	return apperr.NewError(apperr.ErrConfig, "ASSEMBLYAI_KEY is not configured")
}
