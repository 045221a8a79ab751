package jobs

import "context"

// Store persists uploads and burn jobs.
// Lookups of missing rows return an apperr.ErrNotFound error.
type Store interface {
	InsertVideoFile(ctx context.Context, file VideoFile) error
	GetVideoFile(ctx context.Context, transcriptID string) (*VideoFile, error)

	InsertJob(ctx context.Context, job VideoJob) error
	GetJob(ctx context.Context, jobID string) (*VideoJob, error)
	LatestJobForTranscript(ctx context.Context, transcriptID string) (*VideoJob, error)
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	// FailUnfinishedJobs moves every non-terminal job to error and reports how many changed.
	FailUnfinishedJobs(ctx context.Context, message string) (int64, error)
}
