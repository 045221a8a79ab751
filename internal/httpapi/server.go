package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-burner/internal/jobs"
	"github.com/MimeLyc/subtitle-burner/internal/service"
	"github.com/MimeLyc/subtitle-burner/pkg/icron"
	"github.com/MimeLyc/subtitle-burner/pkg/log"
)

// Backend is what the handlers call; *service.Service implements it.
type Backend interface {
	Upload(ctx context.Context, req service.UploadRequest) (*service.UploadResult, error)
	TranscriptStatus(ctx context.Context, transcriptID string) (json.RawMessage, error)
	StartBurn(ctx context.Context, transcriptID string) (*jobs.VideoJob, error)
	GetJob(ctx context.Context, jobID string) (*jobs.VideoJob, error)
	LatestJob(ctx context.Context, transcriptID string) (*jobs.VideoJob, error)
	ResultFile(ctx context.Context, jobID string) (*service.Download, error)
	SubtitleText(ctx context.Context, transcriptID string) (string, error)
	Health(ctx context.Context) service.Health
}

type nextSweepFunc func() (*icron.TriggerInfo, error)

type Server struct {
	backend Backend

	uiEnabled       bool
	uiStaticDir     string
	maxUploadMemory int64
	streamInterval  time.Duration
	nextSweep       nextSweepFunc

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

// WithMaxUploadMemory bounds how much of a multipart upload is kept in
// memory; the rest spills to temp files.
func WithMaxUploadMemory(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadMemory = n
		}
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

// WithNextSweep adds the janitor schedule to the health report.
func WithNextSweep(fn func() (*icron.TriggerInfo, error)) Option {
	return func(s *Server) {
		s.nextSweep = fn
	}
}

func NewServer(backend Backend, opts ...Option) *Server {
	s := &Server{
		backend:         backend,
		uiEnabled:       false,
		maxUploadMemory: 32 << 20,
		streamInterval:  time.Second,
		mux:             http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("GET /transcription_status", s.handleTranscriptionStatus)
	s.mux.HandleFunc("POST /burn_subtitles/{transcript_id}", s.handleBurnSubtitles)
	s.mux.HandleFunc("GET /video_status/{job_id}", s.handleVideoStatus)
	s.mux.HandleFunc("GET /video_status/{job_id}/stream", s.handleJobStream)
	s.mux.HandleFunc("GET /get_job_by_transcript/{transcript_id}", s.handleJobByTranscript)
	s.mux.HandleFunc("GET /download_video/{job_id}", s.handleDownloadVideo)
	s.mux.HandleFunc("GET /download_srt/{transcript_id}", s.handleDownloadSRT)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps the job stream working behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.Slog().LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote", r.RemoteAddr),
		)
	})
}
