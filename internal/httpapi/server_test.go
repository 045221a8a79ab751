package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/subtitle-burner/internal/apperr"
	"github.com/MimeLyc/subtitle-burner/internal/jobs"
	"github.com/MimeLyc/subtitle-burner/internal/service"
	"github.com/MimeLyc/subtitle-burner/pkg/icron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu sync.Mutex

	uploaded   service.UploadRequest
	uploadBody string
	uploadErr  error

	statusDoc json.RawMessage
	statusErr error

	jobs      map[string]*jobs.VideoJob
	latest    map[string]string
	burnErr   error
	download  *service.Download
	dlErr     error
	srt       string
	srtErr    error
	health    service.Health
	getCalls  int
	advanceOn int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		jobs:   make(map[string]*jobs.VideoJob),
		latest: make(map[string]string),
		health: service.Health{Status: "ok", Database: true},
	}
}

func (f *fakeBackend) Upload(_ context.Context, req service.UploadRequest) (*service.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, _ := io.ReadAll(req.Body)
	f.uploaded = req
	f.uploadBody = string(data)
	return &service.UploadResult{
		Message:      "File uploaded and transcription started",
		UploadURL:    "https://cdn.example/u1",
		TranscriptID: "t1",
		Status:       "queued",
	}, nil
}

func (f *fakeBackend) TranscriptStatus(context.Context, string) (json.RawMessage, error) {
	return f.statusDoc, f.statusErr
}

func (f *fakeBackend) StartBurn(_ context.Context, transcriptID string) (*jobs.VideoJob, error) {
	if f.burnErr != nil {
		return nil, f.burnErr
	}
	job := &jobs.VideoJob{JobID: "job-1", TranscriptID: transcriptID, Status: jobs.StatusStarted}
	f.mu.Lock()
	f.jobs[job.JobID] = job
	f.mu.Unlock()
	return job, nil
}

func (f *fakeBackend) GetJob(_ context.Context, jobID string) (*jobs.VideoJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, apperr.NewError(apperr.ErrNotFound, "job not found")
	}
	if f.advanceOn > 0 && f.getCalls >= f.advanceOn {
		job.Status = jobs.StatusCompleted
		job.Progress = 100
	}
	cp := *job
	return &cp, nil
}

func (f *fakeBackend) LatestJob(ctx context.Context, transcriptID string) (*jobs.VideoJob, error) {
	id, ok := f.latest[transcriptID]
	if !ok {
		return nil, apperr.NewError(apperr.ErrNotFound, "no job found for transcript")
	}
	return f.GetJob(ctx, id)
}

func (f *fakeBackend) ResultFile(context.Context, string) (*service.Download, error) {
	return f.download, f.dlErr
}

func (f *fakeBackend) SubtitleText(context.Context, string) (string, error) {
	return f.srt, f.srtErr
}

func (f *fakeBackend) Health(context.Context) service.Health {
	return f.health
}

func do(t *testing.T, srv *Server, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func multipartBody(t *testing.T, field, filename, content string, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestServer_Upload(t *testing.T) {
	backend := newFakeBackend()
	srv := NewServer(backend)

	body, ct := multipartBody(t, "videoFile", "clip.mp4", "video-bytes", map[string]string{"language": "es"})
	rec := do(t, srv, http.MethodPost, "/upload", body, ct)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "t1", out["transcript_id"])
	assert.Equal(t, "queued", out["status"])
	assert.Equal(t, "https://cdn.example/u1", out["upload_url"])
	assert.NotEmpty(t, out["message"])

	assert.Equal(t, "clip.mp4", backend.uploaded.Filename)
	assert.Equal(t, "es", backend.uploaded.Language)
	assert.Equal(t, "video-bytes", backend.uploadBody)
}

func TestServer_Upload_MissingFile(t *testing.T) {
	srv := NewServer(newFakeBackend())

	body, ct := multipartBody(t, "", "", "", map[string]string{"language": "es"})
	rec := do(t, srv, http.MethodPost, "/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec), "error")

	rec = do(t, srv, http.MethodPost, "/upload", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Upload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "config", err: apperr.NewError(apperr.ErrConfig, "ASSEMBLYAI_KEY is not configured"), want: http.StatusInternalServerError},
		{name: "remote", err: apperr.NewError(apperr.ErrRemote, "transcription service error"), want: http.StatusBadGateway},
		{name: "validation", err: apperr.NewError(apperr.ErrValidation, "empty file name"), want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.uploadErr = tt.err
			srv := NewServer(backend)

			body, ct := multipartBody(t, "videoFile", "clip.mp4", "x", nil)
			rec := do(t, srv, http.MethodPost, "/upload", body, ct)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, apperr.Message(tt.err), decode(t, rec)["error"])
		})
	}
}

func TestServer_TranscriptionStatus(t *testing.T) {
	backend := newFakeBackend()
	backend.statusDoc = json.RawMessage(`{"id":"t1","status":"processing","audio_duration":12}`)
	srv := NewServer(backend)

	rec := do(t, srv, http.MethodGet, "/transcription_status?transcript_id=t1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, string(backend.statusDoc), rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/transcription_status", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_BurnSubtitles(t *testing.T) {
	srv := NewServer(newFakeBackend())

	rec := do(t, srv, http.MethodPost, "/burn_subtitles/t1", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "job-1", out["job_id"])
	assert.Equal(t, "processing", out["status"])
	assert.NotEmpty(t, out["message"])
}

func TestServer_BurnSubtitles_NotFound(t *testing.T) {
	backend := newFakeBackend()
	backend.burnErr = apperr.NewError(apperr.ErrNotFound, "video file is no longer available")
	srv := NewServer(backend)

	rec := do(t, srv, http.MethodPost, "/burn_subtitles/t1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "video file is no longer available", decode(t, rec)["error"])
}

func TestServer_VideoStatus(t *testing.T) {
	backend := newFakeBackend()
	out := "/v/clip_with_subtitles.mp4"
	backend.jobs["job-1"] = &jobs.VideoJob{
		JobID: "job-1", TranscriptID: "t1", Status: jobs.StatusCompleted, Progress: 100,
		Message: "Video processed successfully", OutputPath: &out,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	srv := NewServer(backend)

	rec := do(t, srv, http.MethodGet, "/video_status/job-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, float64(100), got["progress"])
	assert.Equal(t, out, got["output_path"])
	assert.Nil(t, got["error"])
	assert.Contains(t, got, "created_at")

	rec = do(t, srv, http.MethodGet, "/video_status/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_JobByTranscript(t *testing.T) {
	backend := newFakeBackend()
	backend.jobs["job-2"] = &jobs.VideoJob{JobID: "job-2", TranscriptID: "t1", Status: jobs.StatusProcessing}
	backend.latest["t1"] = "job-2"
	srv := NewServer(backend)

	rec := do(t, srv, http.MethodGet, "/get_job_by_transcript/t1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "job-2", decode(t, rec)["job_id"])

	rec = do(t, srv, http.MethodGet, "/get_job_by_transcript/t9", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DownloadVideo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip_with_subtitles.mp4")
	require.NoError(t, os.WriteFile(path, []byte("burned"), 0o644))
	backend := newFakeBackend()
	backend.download = &service.Download{Path: path, Name: "clip_with_subtitles.mp4"}
	srv := NewServer(backend)

	rec := do(t, srv, http.MethodGet, "/download_video/job-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "burned", rec.Body.String())
	assert.Equal(t, `attachment; filename=clip_with_subtitles.mp4`, rec.Header().Get("Content-Disposition"))
}

func TestServer_DownloadVideo_Refusals(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not ready", err: apperr.NewError(apperr.ErrNotReady, "video is not ready yet"), want: http.StatusConflict},
		{name: "missing", err: apperr.NewError(apperr.ErrNotFound, "video file not found"), want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.dlErr = tt.err
			srv := NewServer(backend)

			rec := do(t, srv, http.MethodGet, "/download_video/job-1", nil, "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, rec.Header().Get("Content-Disposition"))
		})
	}
}

func TestServer_DownloadSRT(t *testing.T) {
	backend := newFakeBackend()
	backend.srt = "1\n00:00:00,000 --> 00:00:01,000\nHola\n"
	srv := NewServer(backend)

	rec := do(t, srv, http.MethodGet, "/download_srt/t1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, backend.srt, rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=t1.srt", rec.Header().Get("Content-Disposition"))
}

func TestServer_Health(t *testing.T) {
	backend := newFakeBackend()
	next := time.Date(2024, 5, 2, 13, 0, 0, 0, time.UTC)
	srv := NewServer(backend, WithNextSweep(func() (*icron.TriggerInfo, error) {
		return &icron.TriggerInfo{Next: next}, nil
	}))

	rec := do(t, srv, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, next.Format(time.RFC3339), out["next_sweep"])

	backend.health = service.Health{Status: "degraded"}
	rec = do(t, srv, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_JobStream_EndsAtTerminalState(t *testing.T) {
	backend := newFakeBackend()
	backend.jobs["job-1"] = &jobs.VideoJob{JobID: "job-1", TranscriptID: "t1", Status: jobs.StatusProcessing, Progress: 50}
	backend.advanceOn = 3
	srv := NewServer(backend, WithStreamInterval(5*time.Millisecond))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/video_status/job-1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var statuses []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var job jobs.VideoJob
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &job))
		statuses = append(statuses, string(job.Status))
	}

	require.NotEmpty(t, statuses)
	assert.Equal(t, "processing", statuses[0])
	assert.Equal(t, "completed", statuses[len(statuses)-1])
}

func TestServer_JobStream_UnknownJob(t *testing.T) {
	srv := NewServer(newFakeBackend())

	rec := do(t, srv, http.MethodGet, "/video_status/nope/stream", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ServesSPAFromStaticDir(t *testing.T) {
	staticDir := filepath.Join(t.TempDir(), "web")
	require.NoError(t, os.MkdirAll(staticDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>spa</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log(1)"), 0o644))

	srv := NewServer(newFakeBackend(), WithUI(staticDir, true))

	for _, url := range []string{"/", "/processing", "/missing.css"} {
		rec := do(t, srv, http.MethodGet, url, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code, url)
		assert.Contains(t, rec.Body.String(), "spa", url)
	}

	rec := do(t, srv, http.MethodGet, "/app.js", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console.log")
}

func TestServer_UIDisabled(t *testing.T) {
	srv := NewServer(newFakeBackend())

	rec := do(t, srv, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
