package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"video_archiver/internal/config"
	"video_archiver/internal/domain"
	"video_archiver/internal/export"
	"video_archiver/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	outputDir := flag.String("out", "", "output directory (overrides export.output_dir)")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if *outputDir != "" {
		cfg.Export.OutputDir = *outputDir
	}

	loc, err := time.LoadLocation(cfg.Export.Timezone)
	if err != nil {
		logger.Error("invalid export timezone", "error", err)
		os.Exit(1)
	}

	statuses := make([]domain.TouhouStatus, 0, len(cfg.Export.Statuses))
	for _, code := range cfg.Export.Statuses {
		st, err := domain.ParseTouhouStatus(code)
		if err != nil {
			logger.Error("invalid export status", "error", err)
			os.Exit(1)
		}
		statuses = append(statuses, st)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := postgres.NewExportStore(db)

	exporter := export.New(store, export.Config{
		OutputDir: cfg.Export.OutputDir,
		Location:  loc,
		Statuses:  statuses,
	}, logger)

	if _, err := exporter.Export(ctx); err != nil {
		logger.Error("export failed", "error", err)
		db.Close()
		os.Exit(1)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		logger.Warn("failed to count videos", "error", err)
		return
	}
	for status, n := range counts {
		logger.Info("stored videos", "status", status.String(), "count", n)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
