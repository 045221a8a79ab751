package httpapi

import (
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/MimeLyc/subtitle-burner/internal/apperr"
	"github.com/MimeLyc/subtitle-burner/internal/service"
	"github.com/MimeLyc/subtitle-burner/pkg/log"
)

const msgBurnStarted = "Video processing started"

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "no file sent")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("videoFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file sent")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "empty file name")
		return
	}

	res, err := s.backend.Upload(r.Context(), service.UploadRequest{
		Filename: header.Filename,
		Body:     file,
		Language: r.FormValue("language"),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTranscriptionStatus(w http.ResponseWriter, r *http.Request) {
	transcriptID := r.URL.Query().Get("transcript_id")
	if transcriptID == "" {
		writeError(w, http.StatusBadRequest, "missing transcript_id")
		return
	}
	doc, err := s.backend.TranscriptStatus(r.Context(), transcriptID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleBurnSubtitles(w http.ResponseWriter, r *http.Request) {
	job, err := s.backend.StartBurn(r.Context(), r.PathValue("transcript_id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  job.JobID,
		"message": msgBurnStarted,
		"status":  "processing",
	})
}

func (s *Server) handleVideoStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.backend.GetJob(r.Context(), r.PathValue("job_id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobByTranscript(w http.ResponseWriter, r *http.Request) {
	job, err := s.backend.LatestJob(r.Context(), r.PathValue("transcript_id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDownloadVideo(w http.ResponseWriter, r *http.Request) {
	dl, err := s.backend.ResultFile(r.Context(), r.PathValue("job_id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", attachment(dl.Name))
	http.ServeFile(w, r, dl.Path)
}

func (s *Server) handleDownloadSRT(w http.ResponseWriter, r *http.Request) {
	transcriptID := r.PathValue("transcript_id")
	text, err := s.backend.SubtitleText(r.Context(), transcriptID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", attachment(transcriptID+".srt"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

type healthResponse struct {
	service.Health
	NextSweep *time.Time `json:"next_sweep,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Health: s.backend.Health(r.Context())}
	if s.nextSweep != nil {
		if info, err := s.nextSweep(); err == nil {
			resp.NextSweep = &info.Next
		}
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeAppError maps an error to its status and a {"error": msg} body.
func writeAppError(w http.ResponseWriter, err error) {
	status := apperr.TypeOf(err).HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Error("Request failed: %v", err)
	}
	writeError(w, status, apperr.Message(err))
}
