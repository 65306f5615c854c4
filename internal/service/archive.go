package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"video_archiver/internal/config"
	"video_archiver/internal/domain"
	"video_archiver/internal/metrics"
)

type ArchiveService struct {
	source    Source
	creators  CreatorStore
	videos    VideoStore
	parts     PartStore
	txManager TransactionManager
	publisher Publisher
	delay     CreatorDelay
	logger    *slog.Logger
	config    config.SyncConfig

	newRunID func() string
}

// NewArchiveService wires the orchestrator. publisher may be nil.
func NewArchiveService(
	source Source,
	creators CreatorStore,
	videos VideoStore,
	parts PartStore,
	txManager TransactionManager,
	publisher Publisher,
	delay CreatorDelay,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *ArchiveService {
	return &ArchiveService{
		source:    source,
		creators:  creators,
		videos:    videos,
		parts:     parts,
		txManager: txManager,
		publisher: publisher,
		delay:     delay,
		logger:    logger.With("source", source.ID()),
		config:    cfg,
		newRunID:  uuid.NewString,
	}
}

// Run makes one pass over all creators. Video and catalog failures are
// recorded in the report and skipped; the returned error is non-nil only
// when the pass was cut short by cancellation, by signing becoming
// unavailable, or by failing to resolve the creator list.
func (s *ArchiveService) Run(ctx context.Context) (*domain.RunReport, error) {
	report := &domain.RunReport{
		RunID:     s.newRunID(),
		StartedAt: time.Now(),
	}
	logger := s.logger.With("run_id", report.RunID)

	finish := func() {
		report.Duration = time.Since(report.StartedAt)
		metrics.RunDuration.Observe(report.Duration.Seconds())
	}

	mids, err := s.creatorIDs(ctx)
	if err != nil {
		finish()
		return report, fmt.Errorf("resolve creators: %w", err)
	}

	logger.Info("starting run", "creators", len(mids))

	for i, mid := range mids {
		if err := ctx.Err(); err != nil {
			finish()
			return report, err
		}

		if i > 0 {
			if err := s.delay.Wait(ctx); err != nil {
				finish()
				return report, err
			}
		}

		stats, err := s.archiveCreator(ctx, logger.With("mid", mid), report, mid)
		report.Creators = append(report.Creators, stats)
		s.delay.Observe(stats.Listed)

		if err != nil {
			finish()
			if errors.Is(err, domain.ErrSigningUnavailable) {
				logger.Error("aborting run", "mid", mid, "error", err)
			}
			return report, err
		}
	}

	finish()

	logger.Info("run completed",
		"creators", len(report.Creators),
		"failures", len(report.Failures),
		"failed_creators", report.FailedCreators(),
		"duration", report.Duration,
	)

	return report, nil
}

func (s *ArchiveService) creatorIDs(ctx context.Context) ([]int64, error) {
	if len(s.config.Creators) > 0 {
		return s.config.Creators, nil
	}
	return s.creators.ListIDs(ctx)
}

// archiveCreator walks one creator's catalog. It returns an error only for
// conditions that end the whole run.
func (s *ArchiveService) archiveCreator(ctx context.Context, logger *slog.Logger, report *domain.RunReport, mid int64) (domain.CreatorStats, error) {
	stats := domain.CreatorStats{MID: mid}
	start := time.Now()

	for item, err := range s.source.ListVideos(ctx, mid) {
		if err != nil {
			if isFatal(ctx, err) {
				stats.Duration = time.Since(start)
				return stats, err
			}
			stats.Aborted = true
			s.recordFailure(report, domain.Failure{MID: mid, Stage: domain.StageCatalog, Err: err})
			logger.Error("catalog walk failed", "listed", stats.Listed, "error", err)
			break
		}

		stats.Listed++
		video := item.Video

		isNew, stage, err := s.archiveVideo(ctx, &item.Creator, &video)
		if err != nil {
			if isFatal(ctx, err) {
				stats.Duration = time.Since(start)
				return stats, err
			}
			stats.Failed++
			s.recordFailure(report, domain.Failure{
				MID:   mid,
				AID:   video.AID,
				BVID:  video.BVID,
				Stage: stage,
				Err:   err,
			})
			logger.Warn("skipping video", "aid", video.AID, "bvid", video.BVID, "stage", stage, "error", err)
			continue
		}

		if isNew {
			stats.New++
			metrics.VideosStored.WithLabelValues("new").Inc()
		} else {
			stats.Updated++
			metrics.VideosStored.WithLabelValues("updated").Inc()
		}

		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, report.RunID, &video, isNew); err != nil {
				logger.Warn("publish failed", "aid", video.AID, "error", err)
			} else {
				stats.Published++
			}
		}
	}

	stats.Duration = time.Since(start)
	logger.Info("creator done",
		"listed", stats.Listed,
		"new", stats.New,
		"updated", stats.Updated,
		"failed", stats.Failed,
		"duration", stats.Duration,
	)

	return stats, nil
}

// archiveVideo fetches the per-video details and commits the creator, the
// video and its parts in one transaction.
func (s *ArchiveService) archiveVideo(ctx context.Context, creator *domain.Creator, video *domain.Video) (bool, domain.Stage, error) {
	parts, err := s.source.ListParts(ctx, video.AID)
	if err != nil {
		return false, domain.StageParts, err
	}

	tags, err := s.source.ListTags(ctx, video.AID)
	if err != nil {
		return false, domain.StageTags, err
	}

	video.Parts = parts
	video.Tags = tags

	var isNew bool
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.creators.Upsert(txCtx, creator); err != nil {
			return err
		}

		var err error
		isNew, err = s.videos.Upsert(txCtx, video)
		if err != nil {
			return err
		}

		return s.parts.Replace(txCtx, video.AID, parts)
	})
	if err != nil {
		return false, domain.StageStore, fmt.Errorf("store video %d: %w", video.AID, err)
	}

	return isNew, domain.StageStore, nil
}

func (s *ArchiveService) recordFailure(report *domain.RunReport, f domain.Failure) {
	report.AddFailure(f)
	metrics.Failures.WithLabelValues(string(f.Stage)).Inc()
}

func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, domain.ErrSigningUnavailable) || ctx.Err() != nil
}
