// Command server runs the download and transcription service: an
// authenticated HTTP API in front of a job manager, a cached metadata
// fetcher, a media downloader and a scheduled index reconciler.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/kaloper/douyin-fetch/internal/cacheindex"
	"github.com/kaloper/douyin-fetch/internal/config"
	"github.com/kaloper/douyin-fetch/internal/douyin"
	"github.com/kaloper/douyin-fetch/internal/httpapi"
	"github.com/kaloper/douyin-fetch/internal/imaging"
	"github.com/kaloper/douyin-fetch/internal/jobs"
	"github.com/kaloper/douyin-fetch/internal/reconcile"
	"github.com/kaloper/douyin-fetch/internal/transcribe"
	"github.com/kaloper/douyin-fetch/pkg/log"
)

func main() {
	// Missing .env is fine, real deployments use environment variables.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	if cfg.LogFile != "" {
		fileLogger, err := log.NewFileLogger(cfg.LogFile, log.LevelInfo)
		if err != nil {
			log.Fatal("Failed to open log file: %v", err)
		}
		defer fileLogger.Close()
		log.UseLogger(fileLogger.Logger)
	} else {
		log.InitLogger(log.LevelInfo)
	}

	for _, dir := range []string{cfg.Storage.VideoDir, cfg.Storage.ImageDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("Failed to create media directory %s: %v", dir, err)
		}
	}

	index, err := cacheindex.New(cfg.Storage.IndexDB, cfg.Storage.JSONDir, cfg.Storage.UIDToName)
	if err != nil {
		log.Fatal("Failed to open cache index: %v", err)
	}
	defer index.Close()

	client, err := douyin.NewClient(douyin.ClientConfig{
		IDAPIURL:  cfg.Douyin.IDAPIURL,
		URLAPIURL: cfg.Douyin.URLAPIURL,
		AuthKey:   cfg.Douyin.AuthKey,
		Timeout:   cfg.Douyin.FetchTimeout,
	})
	if err != nil {
		log.Fatal("Failed to build metadata client: %v", err)
	}

	downloader := douyin.NewDownloader(client, index, douyin.DownloaderConfig{
		VideoDir:        cfg.Storage.VideoDir,
		ImageDir:        cfg.Storage.ImageDir,
		UIDToName:       cfg.Storage.UIDToName,
		DownloadTimeout: cfg.Douyin.DownloadTimeout,
	}, douyin.WithConverter(imaging.NewHEICConverter()))

	transcriber := transcribe.New(transcribe.Config{
		APIBase: cfg.ASR.APIBase,
		APIKey:  cfg.ASR.APIKey,
		Model:   cfg.ASR.Model,
		Timeout: cfg.ASR.Timeout,
	})

	manager := jobs.NewManager(cfg.Jobs.Retention())

	scheduler := cron.New()
	reconciler := reconcile.New(index)
	if _, err := reconciler.Schedule(scheduler, cfg.Reconcile.CronExpr); err != nil {
		log.Fatal("Invalid reconcile schedule %q: %v", cfg.Reconcile.CronExpr, err)
	}
	scheduler.Start()

	server := httpapi.NewServer(httpapi.Config{
		Addr:          cfg.HTTP.Addr,
		APIKey:        cfg.HTTP.APIKey,
		APIKeyHeader:  cfg.HTTP.APIKeyHeader,
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
	}, manager, downloader, transcriber)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		log.Error("HTTP server stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete: %v", err)
	}

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	log.Info("Server stopped")
}
