package jobs

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusStarted        Status = "started"
	StatusDownloadingSRT Status = "downloading_srt"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusError          Status = "error"
)

// rank orders the happy path; error sits outside it.
var statusRank = map[Status]int{
	StatusStarted:        0,
	StatusDownloadingSRT: 1,
	StatusProcessing:     2,
	StatusCompleted:      3,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown job status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	if s == StatusError {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransitionTo reports whether next may follow s. Steps along
// started → downloading_srt → processing → completed may be skipped but never
// reversed, any non-terminal state may fail, and terminal states are final.
// Repeating the current non-terminal state is allowed for progress updates.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	if next == StatusError {
		return true
	}
	return statusRank[next] >= statusRank[s]
}

// VideoFile is the stored upload behind one remote transcript.
type VideoFile struct {
	TranscriptID string    `json:"transcript_id"`
	OriginalPath string    `json:"original_path"`
	Filename     string    `json:"filename"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// VideoJob is one run of the subtitle-burn workflow.
type VideoJob struct {
	JobID        string    `json:"job_id"`
	TranscriptID string    `json:"transcript_id"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	OutputPath   *string   `json:"output_path"`
	Error        *string   `json:"error"`
}

// JobUpdate changes status, message and progress; Error and OutputPath
// are only written when non-nil.
type JobUpdate struct {
	Status     Status
	Message    string
	Progress   int
	Error      *string
	OutputPath *string
}

func (u JobUpdate) validate() error {
	if !u.Status.Valid() {
		return fmt.Errorf("unknown job status %q", u.Status)
	}
	if u.Progress < 0 || u.Progress > 100 {
		return fmt.Errorf("progress %d out of range 0-100", u.Progress)
	}
	return nil
}

// StringPtr is a small helper for the optional JobUpdate fields.
func StringPtr(s string) *string {
	return &s
}
