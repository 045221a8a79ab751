package jobs

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-burner/internal/apperr"
	"github.com/google/uuid"
)

const (
	msgJobStarted     = "Starting video processing"
	msgJobInterrupted = "Error: interrupted by restart"
)

// Tracker owns the VideoJob lifecycle on top of a Store.
type Tracker struct {
	store Store
	now   func() time.Time
	newID func() string
	stat  func(name string) (os.FileInfo, error)
}

func NewTracker(store Store) *Tracker {
	return &Tracker{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
		stat:  os.Stat,
	}
}

// RegisterVideo records the stored upload for a transcript.
func (t *Tracker) RegisterVideo(ctx context.Context, file VideoFile) error {
	if strings.TrimSpace(file.TranscriptID) == "" {
		return apperr.NewError(apperr.ErrValidation, "transcript_id is required")
	}
	if file.OriginalPath == "" || file.Filename == "" {
		return apperr.NewError(apperr.ErrValidation, "original path and filename are required")
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = t.now()
	}
	return t.store.InsertVideoFile(ctx, file)
}

func (t *Tracker) GetVideo(ctx context.Context, transcriptID string) (*VideoFile, error) {
	if strings.TrimSpace(transcriptID) == "" {
		return nil, apperr.NewError(apperr.ErrValidation, "transcript_id is required")
	}
	return t.store.GetVideoFile(ctx, transcriptID)
}

// CreateJob inserts a started job for a transcript whose source video is
// still on disk. It does not wait for any processing.
func (t *Tracker) CreateJob(ctx context.Context, transcriptID string) (*VideoJob, error) {
	video, err := t.GetVideo(ctx, transcriptID)
	if err != nil {
		return nil, err
	}
	if _, err := t.stat(video.OriginalPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NewError(apperr.ErrNotFound, "video file is no longer available").
				WithContext("transcript_id", transcriptID)
		}
		return nil, apperr.WrapError(err, apperr.ErrStorage, "failed to check video file")
	}

	job := VideoJob{
		JobID:        t.newID(),
		TranscriptID: transcriptID,
		Status:       StatusStarted,
		Progress:     0,
		Message:      msgJobStarted,
		CreatedAt:    t.now(),
	}
	if err := t.store.InsertJob(ctx, job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (t *Tracker) GetJob(ctx context.Context, jobID string) (*VideoJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, apperr.NewError(apperr.ErrValidation, "job_id is required")
	}
	return t.store.GetJob(ctx, jobID)
}

// GetLatestJobForTranscript returns the most recently created job, since a
// video may be burned more than once.
func (t *Tracker) GetLatestJobForTranscript(ctx context.Context, transcriptID string) (*VideoJob, error) {
	if strings.TrimSpace(transcriptID) == "" {
		return nil, apperr.NewError(apperr.ErrValidation, "transcript_id is required")
	}
	return t.store.LatestJobForTranscript(ctx, transcriptID)
}

// UpdateJob applies a partial update. Only the task owning jobID calls it, so
// the read-check-write below never races with another writer of the same row.
func (t *Tracker) UpdateJob(ctx context.Context, jobID string, update JobUpdate) error {
	if err := update.validate(); err != nil {
		return apperr.WrapError(err, apperr.ErrValidation, "invalid job update")
	}
	current, err := t.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(update.Status) {
		return apperr.Errorf(apperr.ErrValidation, "invalid transition: %s -> %s", current.Status, update.Status).
			WithContext("job_id", jobID)
	}
	return t.store.UpdateJob(ctx, jobID, update)
}

// FailInterrupted resolves jobs left unfinished by a previous process.
func (t *Tracker) FailInterrupted(ctx context.Context) (int64, error) {
	return t.store.FailUnfinishedJobs(ctx, msgJobInterrupted)
}
