package janitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-burner/pkg/file"
	"github.com/MimeLyc/subtitle-burner/pkg/icron"
	"github.com/MimeLyc/subtitle-burner/pkg/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	// TempDir is where workers leave {job_id}.srt files.
	TempDir  string
	MaxAge   time.Duration
	CronExpr string
}

// Janitor removes subtitle files that a worker failed to clean up.
type Janitor struct {
	cfg   Config
	cron  *cron.Cron
	group singleflight.Group
	now   func() time.Time
}

func New(cfg Config, c *cron.Cron) *Janitor {
	return &Janitor{cfg: cfg, cron: c, now: time.Now}
}

// Schedule registers the periodic sweep on the cron engine.
func (j *Janitor) Schedule(ctx context.Context) error {
	log.Info("Scheduling temp file sweep (%s) in %s", j.cfg.CronExpr, j.cfg.TempDir)
	_, err := j.cron.AddFunc(j.cfg.CronExpr, func() {
		if _, err := j.Sweep(ctx); err != nil {
			log.Error("Temp file sweep failed: %v", err)
		}
	})
	return err
}

// Sweep deletes job subtitle files older than MaxAge. Overlapping calls
// share one pass.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	v, err, _ := j.group.Do("sweep", func() (any, error) {
		return j.sweep(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (j *Janitor) sweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.cfg.MaxAge)
	stale, err := file.FindOlderThan(j.cfg.TempDir, "*.srt", cutoff)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range stale {
		if ctx.Err() != nil {
			break
		}
		if !isJobFile(path) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to remove stale subtitle file %s: %v", path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info("Removed %d stale subtitle file(s) from %s", removed, j.cfg.TempDir)
	}
	return removed, nil
}

// isJobFile matches only names workers create, so other .srt files in a
// shared temp dir are left alone.
func isJobFile(path string) bool {
	name := strings.TrimSuffix(filepath.Base(path), ".srt")
	_, err := uuid.Parse(name)
	return err == nil
}

// NextSweep reports when the sweep fires next.
func (j *Janitor) NextSweep() (*icron.TriggerInfo, error) {
	return icron.GetTriggerInfo(j.cfg.CronExpr, j.now())
}
