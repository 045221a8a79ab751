package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-burner/internal/apperr"
	"github.com/MimeLyc/subtitle-burner/internal/jobs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore implements jobs.Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ jobs.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database still answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths always use forward slashes.
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) InsertVideoFile(ctx context.Context, file jobs.VideoFile) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO video_files (transcript_id, original_path, filename, uploaded_at)
		 VALUES (?, ?, ?, ?)`,
		file.TranscriptID,
		file.OriginalPath,
		file.Filename,
		file.UploadedAt.UnixNano(),
	)
	if err != nil {
		return storageError(err, "insert video file").WithContext("transcript_id", file.TranscriptID)
	}
	return nil
}

func (s *SQLiteStore) GetVideoFile(ctx context.Context, transcriptID string) (*jobs.VideoFile, error) {
	var (
		item       jobs.VideoFile
		uploadedAt int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT transcript_id, original_path, filename, uploaded_at
		 FROM video_files WHERE transcript_id = ?`,
		transcriptID,
	).Scan(&item.TranscriptID, &item.OriginalPath, &item.Filename, &uploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewError(apperr.ErrNotFound, "video file not found").
			WithContext("transcript_id", transcriptID)
	}
	if err != nil {
		return nil, storageError(err, "get video file")
	}
	item.UploadedAt = time.Unix(0, uploadedAt).UTC()
	return &item, nil
}

func (s *SQLiteStore) InsertJob(ctx context.Context, job jobs.VideoJob) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO video_jobs (job_id, transcript_id, status, progress, message, created_at, output_path, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID,
		job.TranscriptID,
		string(job.Status),
		job.Progress,
		job.Message,
		job.CreatedAt.UnixNano(),
		nullString(job.OutputPath),
		nullString(job.Error),
	)
	if err != nil {
		return storageError(err, "insert job").WithContext("job_id", job.JobID)
	}
	return nil
}

const jobColumns = `job_id, transcript_id, status, progress, message, created_at, output_path, error`

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*jobs.VideoJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewError(apperr.ErrNotFound, "job not found").WithContext("job_id", jobID)
	}
	if err != nil {
		return nil, storageError(err, "get job")
	}
	return job, nil
}

// LatestJobForTranscript orders by creation time; rowid breaks ties between
// jobs created within the same clock tick.
func (s *SQLiteStore) LatestJobForTranscript(ctx context.Context, transcriptID string) (*jobs.VideoJob, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM video_jobs
		 WHERE transcript_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		transcriptID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewError(apperr.ErrNotFound, "no job found for transcript").
			WithContext("transcript_id", transcriptID)
	}
	if err != nil {
		return nil, storageError(err, "get latest job")
	}
	return job, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, jobID string, update jobs.JobUpdate) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE video_jobs
		 SET status = ?, message = ?, progress = ?,
		     error = COALESCE(?, error),
		     output_path = COALESCE(?, output_path)
		 WHERE job_id = ?`,
		string(update.Status),
		update.Message,
		update.Progress,
		nullString(update.Error),
		nullString(update.OutputPath),
		jobID,
	)
	if err != nil {
		return storageError(err, "update job").WithContext("job_id", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageError(err, "update job")
	}
	if n == 0 {
		return apperr.NewError(apperr.ErrNotFound, "job not found").WithContext("job_id", jobID)
	}
	return nil
}

func (s *SQLiteStore) FailUnfinishedJobs(ctx context.Context, message string) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE video_jobs
		 SET status = ?, message = ?, error = ?
		 WHERE status NOT IN (?, ?)`,
		string(jobs.StatusError),
		message,
		message,
		string(jobs.StatusCompleted),
		string(jobs.StatusError),
	)
	if err != nil {
		return 0, storageError(err, "fail unfinished jobs")
	}
	return res.RowsAffected()
}

func scanJob(row *sql.Row) (*jobs.VideoJob, error) {
	var (
		item       jobs.VideoJob
		status     string
		createdAt  int64
		outputPath sql.NullString
		errText    sql.NullString
	)
	if err := row.Scan(
		&item.JobID,
		&item.TranscriptID,
		&status,
		&item.Progress,
		&item.Message,
		&createdAt,
		&outputPath,
		&errText,
	); err != nil {
		return nil, err
	}
	st, err := jobs.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	item.Status = st
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	if outputPath.Valid {
		item.OutputPath = &outputPath.String
	}
	if errText.Valid {
		item.Error = &errText.String
	}
	return &item, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func storageError(err error, op string) *apperr.Error {
	if isUniqueViolation(err) {
		return apperr.WrapError(err, apperr.ErrStorage, op+": duplicate key").
			WithContext("constraint", "unique")
	}
	return apperr.WrapError(err, apperr.ErrStorage, op)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
