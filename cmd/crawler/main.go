package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"video_archiver/internal/config"
	"video_archiver/internal/domain"
	"video_archiver/internal/metrics"
	"video_archiver/internal/pacer"
	"video_archiver/internal/publisher"
	"video_archiver/internal/scheduler"
	"video_archiver/internal/service"
	"video_archiver/internal/signer"
	"video_archiver/internal/source/bilibili"
	"video_archiver/internal/storage/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single pass even if sync.interval is set")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(reg); err != nil {
		logger.Error("failed to register metrics", "error", err)
		return 1
	}
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			return 1
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	// One pacer for every platform request, key bootstrap included.
	requestPacer := pacer.New(cfg.Pacing.MinInterval, cfg.Pacing.Jitter)

	keySource := signer.NewNavKeySource(
		&http.Client{Timeout: cfg.API.Timeout},
		cfg.API.NavURL,
		cfg.API.UserAgent,
		requestPacer,
	)
	requestSigner := signer.New(keySource, cfg.API.KeyTTL, logger)

	source := bilibili.New(bilibili.Config{
		BaseURL:        cfg.API.BaseURL,
		UserAgent:      cfg.API.UserAgent,
		Cookie:         cfg.API.Cookie,
		PageSize:       cfg.API.PageSize,
		Timeout:        cfg.API.Timeout,
		MaxAttempts:    cfg.API.Retry.MaxAttempts,
		InitialBackoff: cfg.API.Retry.InitialBackoff,
		MaxBackoff:     cfg.API.Retry.MaxBackoff,
	}, requestPacer, requestSigner, logger)

	archive := service.NewArchiveService(
		source,
		postgres.NewCreatorStore(db),
		postgres.NewVideoStore(db),
		postgres.NewPartStore(db),
		postgres.NewTransactionManager(db),
		pub,
		pacer.NewSwitchDelay(cfg.Pacing.Switch),
		logger,
		cfg.Sync,
	)

	sched := scheduler.NewScheduler(archive, cfg.Sync.Interval, cfg.Sync.RunTimeout, logger)

	logger.Info("starting crawler",
		"source", source.Name(),
		"creators", len(cfg.Sync.Creators),
		"interval", cfg.Sync.Interval,
	)

	if cfg.Sync.Interval == 0 || *once {
		report, err := sched.RunOnce(ctx)
		if report != nil {
			logReport(logger, report)
		}
		if err != nil {
			logger.Error("run aborted", "error", err)
			return 1
		}
		if report.Failed() {
			return 1
		}
		return 0
	}

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
		return 1
	}
	return 0
}

func logReport(logger *slog.Logger, report *domain.RunReport) {
	for _, f := range report.Failures {
		logger.Warn("failure",
			"mid", f.MID,
			"aid", f.AID,
			"bvid", f.BVID,
			"stage", f.Stage,
			"error", f.Err,
		)
	}

	var listed, created, updated int
	for _, c := range report.Creators {
		listed += c.Listed
		created += c.New
		updated += c.Updated
	}

	logger.Info("run summary",
		"run_id", report.RunID,
		"creators", len(report.Creators),
		"listed", listed,
		"new", created,
		"updated", updated,
		"failures", len(report.Failures),
		"failed_creators", report.FailedCreators(),
		"transient_exhausted", report.CountFailures(domain.ErrTransientFetch),
		"constraint_violations", report.CountFailures(domain.ErrConstraintViolation),
		"duration", report.Duration,
	)
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

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
