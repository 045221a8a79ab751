package transcription

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-burner/internal/apperr"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

// UploadChunkSize is the read buffer used while streaming uploads.
const UploadChunkSize = 5_242_880

var (
	ErrUpload = errors.New("remote upload failed")
	ErrSubmit = errors.New("remote submit failed")
	ErrPoll   = errors.New("remote status poll failed")
	ErrFetch  = errors.New("remote subtitle fetch failed")
)

// Config configures the remote transcription API.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// Languages whitelists the language hints forwarded on submit.
	Languages []string
	// RateLimit is outbound requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Client talks to an AssemblyAI-compatible transcription API.
// Thread-safe for concurrent use. Calls block and are never retried.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	languages  map[language.Base]bool
}

func NewClient(cfg Config) *Client {
	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		languages:  make(map[language.Base]bool),
	}
	c.config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, code := range cfg.Languages {
		tag, err := language.Parse(code)
		if err != nil {
			continue
		}
		base, _ := tag.Base()
		c.languages[base] = true
	}
	return c
}

// SubmitOptions tunes a transcription request.
type SubmitOptions struct {
	LanguageHint string
}

// SubmitResult is the remote job created by Submit.
type SubmitResult struct {
	TranscriptID string
	Status       string
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.config.APIKey) != ""
}

// Upload streams r to the upload endpoint and returns the remote upload URL.
func (c *Client) Upload(ctx context.Context, r io.Reader) (string, error) {
	if err := c.checkConfig(); err != nil {
		return "", err
	}
	body := bufio.NewReaderSize(r, UploadChunkSize)
	req, err := c.newRequest(ctx, http.MethodPost, "/upload", body)
	if err != nil {
		return "", remoteError(ErrUpload, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.doJSON(req, ErrUpload, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", remoteError(ErrUpload, errors.New("response has no upload_url"))
	}
	return out.UploadURL, nil
}

// Submit starts a transcription of the uploaded audio.
func (c *Client) Submit(ctx context.Context, uploadURL string, opts SubmitOptions) (SubmitResult, error) {
	if err := c.checkConfig(); err != nil {
		return SubmitResult{}, err
	}

	payload := map[string]any{
		"audio_url":      uploadURL,
		"speaker_labels": true,
	}
	if code, ok := c.languageCode(opts.LanguageHint); ok {
		payload["language_code"] = code
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return SubmitResult{}, remoteError(ErrSubmit, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/transcript", bytes.NewReader(data))
	if err != nil {
		return SubmitResult{}, remoteError(ErrSubmit, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.doJSON(req, ErrSubmit, &out); err != nil {
		return SubmitResult{}, err
	}
	if out.ID == "" {
		return SubmitResult{}, remoteError(ErrSubmit, errors.New("response has no transcript id"))
	}
	return SubmitResult{TranscriptID: out.ID, Status: out.Status}, nil
}

// PollStatus returns the remote transcript document unchanged.
func (c *Client) PollStatus(ctx context.Context, transcriptID string) (json.RawMessage, error) {
	if err := c.checkConfig(); err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/transcript/"+url.PathEscape(transcriptID), nil)
	if err != nil {
		return nil, remoteError(ErrPoll, err)
	}
	data, err := c.do(req, ErrPoll)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, remoteError(ErrPoll, errors.New("response is not valid JSON"))
	}
	return json.RawMessage(data), nil
}

// FetchSubtitleArtifact downloads the transcript rendered as SRT.
func (c *Client) FetchSubtitleArtifact(ctx context.Context, transcriptID string) (string, error) {
	if err := c.checkConfig(); err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/transcript/"+url.PathEscape(transcriptID)+"/srt", nil)
	if err != nil {
		return "", remoteError(ErrFetch, err)
	}
	data, err := c.do(req, ErrFetch)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// languageCode maps a free-form hint to a whitelisted base language.
func (c *Client) languageCode(hint string) (string, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "", false
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return "", false
	}
	base, conf := tag.Base()
	if conf == language.No || !c.languages[base] {
		return "", false
	}
	return base.String(), true
}

func (c *Client) checkConfig() error {
	if !c.Configured() {
		return apperr.NewError(apperr.ErrConfig, "transcription API key is not configured")
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.config.APIKey)
	return req, nil
}

func (c *Client) doJSON(req *http.Request, op error, out any) error {
	data, err := c.do(req, op)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return remoteError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) do(req *http.Request, op error) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, remoteError(op, err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, remoteError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, remoteError(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, remoteError(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	return data, nil
}

// remoteError keeps both the op sentinel and the cause in the chain.
func remoteError(op, cause error) error {
	return apperr.NewErrorWithCause(apperr.ErrRemote, "transcription service error", fmt.Errorf("%w: %w", op, cause))
}
