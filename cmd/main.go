package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MimeLyc/subtitle-burner/internal/config"
	"github.com/MimeLyc/subtitle-burner/internal/httpapi"
	"github.com/MimeLyc/subtitle-burner/internal/janitor"
	"github.com/MimeLyc/subtitle-burner/internal/persistence"
	"github.com/MimeLyc/subtitle-burner/internal/service"
	"github.com/MimeLyc/subtitle-burner/pkg/log"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// drainer finishes in-flight work once the listener is closed.
type drainer interface {
	Shutdown(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		log.Fatal("%v", err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.InitLogger(log.ParseLevel(cfg.Log.Level), log.Format(cfg.Log.Format))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := service.New(*cfg, store)
	if err := svc.RecoverInterrupted(ctx); err != nil {
		return err
	}
	if cfg.Transcription.APIKey == "" {
		log.Warn("ASSEMBLYAI_KEY is not set; uploads and burns will be refused")
	}

	engine := cron.New()
	sweeper := janitor.New(janitor.Config{
		TempDir:  cfg.Storage.TempDir,
		MaxAge:   cfg.Janitor.MaxAge,
		CronExpr: cfg.Janitor.CronExpr,
	}, engine)

	httpSrv := httpapi.NewServer(svc,
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
		httpapi.WithMaxUploadMemory(cfg.HTTP.MaxUploadMemory),
		httpapi.WithNextSweep(sweeper.NextSweep),
	)

	return runWithComponents(ctx, cfg, sweeper, engine, httpSrv, svc)
}

// runWithComponents serves until ctx is done, then stops the listener, the
// cron engine and the drainers, in that order.
func runWithComponents(
	ctx context.Context,
	cfg *config.Config,
	sched scheduler,
	engine cronEngine,
	httpSrv httpServer,
	drainers ...drainer,
) error {
	if err := sched.Schedule(ctx); err != nil {
		return fmt.Errorf("failed to schedule janitor: %w", err)
	}
	engine.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout(cfg))
		defer cancel()

		var errs []error
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		select {
		case <-engine.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn("Cron jobs still running at shutdown deadline")
		}
		for _, d := range drainers {
			if err := d.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("drain: %w", err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.HTTP.ShutdownTimeout > 0 {
		return cfg.HTTP.ShutdownTimeout
	}
	return 30 * time.Second
}
