package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
// Values come from defaults, then an optional YAML file (CONFIG_FILE),
// then environment variables.
//
// Environment Variables:
// Transcription service:
// - ASSEMBLYAI_KEY: API key (optional at startup; requests needing it fail without it)
// - TRANSCRIPTION_API_URL: base URL (default: https://api.assemblyai.com/v2)
// - TRANSCRIPTION_TIMEOUT: per-request timeout (default: 10m)
// - TRANSCRIPTION_LANGUAGES: comma separated language hints forwarded to the service (default: es,en)
// - TRANSCRIPTION_RATE_LIMIT: outbound requests per second, 0 disables (default: 0)
// - TRANSCRIPTION_RATE_BURST: limiter burst (default: 5)
//
// Media:
// - FFMPEG_PATH: ffmpeg binary (default: ffmpeg)
// - BURN_TIMEOUT: upper bound for one burn job, 0 disables (default: 0)
// - WORKER_CONCURRENCY: burn jobs running at once (default: 2)
//
// Storage:
// - DATA_DIR: database directory (default: ./data)
// - UPLOAD_DIR: stored uploads (default: <os temp>/subtitle-burner/uploads)
// - TEMP_DIR: per-job subtitle files (default: os temp dir)
//
// HTTP:
// - HTTP_ADDR (default: :8080), UI_ENABLED (default: false), UI_STATIC_DIR (default: ./web)
// - HTTP_MAX_UPLOAD_MEMORY bytes kept in memory while parsing uploads (default: 32 MiB)
// - HTTP_SHUTDOWN_TIMEOUT (default: 30s)
//
// Janitor:
// - JANITOR_CRON (default: @hourly), JANITOR_MAX_AGE (default: 24h)
//
// Logging:
// - LOG_LEVEL (default: info), LOG_FORMAT console|json (default: console)
type Config struct {
	Transcription TranscriptionConfig `yaml:"transcription"`
	Media         MediaConfig         `yaml:"media"`
	Worker        WorkerConfig        `yaml:"worker"`
	Storage       StorageConfig       `yaml:"storage"`
	HTTP          HTTPConfig          `yaml:"http"`
	Janitor       JanitorConfig       `yaml:"janitor"`
	Log           LogConfig           `yaml:"log"`
}

type TranscriptionConfig struct {
	APIKey    string        `yaml:"api_key"`
	APIURL    string        `yaml:"api_url"`
	Timeout   time.Duration `yaml:"timeout"`
	Languages []string      `yaml:"languages"`
	RateLimit float64       `yaml:"rate_limit"`
	RateBurst int           `yaml:"rate_burst"`
}

type MediaConfig struct {
	FFmpegPath  string        `yaml:"ffmpeg_path"`
	BurnTimeout time.Duration `yaml:"burn_timeout"`
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	UploadDir string `yaml:"upload_dir"`
	TempDir   string `yaml:"temp_dir"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	UIEnabled       bool          `yaml:"ui_enabled"`
	UIStaticDir     string        `yaml:"ui_static_dir"`
	MaxUploadMemory int64         `yaml:"max_upload_memory"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type JanitorConfig struct {
	CronExpr string        `yaml:"cron_expr"`
	MaxAge   time.Duration `yaml:"max_age"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const dbFileName = "subtitle-burner.db"

// DBPath is the SQLite database location inside the data directory.
func (c Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, dbFileName)
}

// Option is a function type for configuring Config
type Option func(*Config)

func defaults() *Config {
	return &Config{
		Transcription: TranscriptionConfig{
			APIURL:    "https://api.assemblyai.com/v2",
			Timeout:   10 * time.Minute,
			Languages: []string{"es", "en"},
			RateBurst: 5,
		},
		Media: MediaConfig{
			FFmpegPath: "ffmpeg",
		},
		Worker: WorkerConfig{
			Concurrency: 2,
		},
		Storage: StorageConfig{
			DataDir:   "./data",
			UploadDir: filepath.Join(os.TempDir(), "subtitle-burner", "uploads"),
			TempDir:   os.TempDir(),
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			UIStaticDir:     "./web",
			MaxUploadMemory: 32 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Janitor: JanitorConfig{
			CronExpr: "@hourly",
			MaxAge:   24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// NewFromEnv creates a new Config instance with values from the optional
// CONFIG_FILE, environment variables and options, in that order.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := defaults()

	if path := getEnvString("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, config); err != nil {
			return nil, err
		}
	}

	t := &config.Transcription
	t.APIKey = getEnvString("ASSEMBLYAI_KEY", t.APIKey)
	t.APIURL = getEnvString("TRANSCRIPTION_API_URL", t.APIURL)
	t.Timeout = getEnvDuration("TRANSCRIPTION_TIMEOUT", t.Timeout)
	t.Languages = getEnvList("TRANSCRIPTION_LANGUAGES", t.Languages)
	t.RateLimit = getEnvFloat("TRANSCRIPTION_RATE_LIMIT", t.RateLimit)
	t.RateBurst = getEnvInt("TRANSCRIPTION_RATE_BURST", t.RateBurst)

	config.Media.FFmpegPath = getEnvString("FFMPEG_PATH", config.Media.FFmpegPath)
	config.Media.BurnTimeout = getEnvDuration("BURN_TIMEOUT", config.Media.BurnTimeout)
	config.Worker.Concurrency = getEnvInt("WORKER_CONCURRENCY", config.Worker.Concurrency)

	s := &config.Storage
	s.DataDir = getEnvString("DATA_DIR", s.DataDir)
	s.UploadDir = getEnvString("UPLOAD_DIR", s.UploadDir)
	s.TempDir = getEnvString("TEMP_DIR", s.TempDir)

	h := &config.HTTP
	h.Addr = getEnvString("HTTP_ADDR", h.Addr)
	h.UIEnabled = getEnvBool("UI_ENABLED", h.UIEnabled)
	h.UIStaticDir = getEnvString("UI_STATIC_DIR", h.UIStaticDir)
	h.MaxUploadMemory = int64(getEnvInt("HTTP_MAX_UPLOAD_MEMORY", int(h.MaxUploadMemory)))
	h.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", h.ShutdownTimeout)

	config.Janitor.CronExpr = getEnvString("JANITOR_CRON", config.Janitor.CronExpr)
	config.Janitor.MaxAge = getEnvDuration("JANITOR_MAX_AGE", config.Janitor.MaxAge)

	config.Log.Level = getEnvString("LOG_LEVEL", config.Log.Level)
	config.Log.Format = getEnvString("LOG_FORMAT", config.Log.Format)

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// validate checks settings the process cannot start without.
// The transcription API key is deliberately not checked here: a missing key
// fails the requests that need it, not the process.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Transcription.APIURL) == "" {
		return fmt.Errorf("TRANSCRIPTION_API_URL is required")
	}
	if c.Transcription.Timeout < 0 {
		return fmt.Errorf("TRANSCRIPTION_TIMEOUT must not be negative")
	}
	if c.Transcription.RateLimit < 0 {
		return fmt.Errorf("TRANSCRIPTION_RATE_LIMIT must not be negative")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be greater than 0")
	}
	if c.Media.BurnTimeout < 0 {
		return fmt.Errorf("BURN_TIMEOUT must not be negative")
	}
	if strings.TrimSpace(c.Media.FFmpegPath) == "" {
		return fmt.Errorf("FFMPEG_PATH is required")
	}
	if c.Storage.DataDir == "" || c.Storage.UploadDir == "" || c.Storage.TempDir == "" {
		return fmt.Errorf("DATA_DIR, UPLOAD_DIR and TEMP_DIR are required")
	}
	if c.HTTP.MaxUploadMemory <= 0 {
		return fmt.Errorf("HTTP_MAX_UPLOAD_MEMORY must be greater than 0")
	}
	if c.Janitor.MaxAge <= 0 {
		return fmt.Errorf("JANITOR_MAX_AGE must be greater than 0")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ret []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	if len(ret) == 0 {
		return defaultValue
	}
	return ret
}
