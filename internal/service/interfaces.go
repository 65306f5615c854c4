package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"iter"

	"video_archiver/internal/domain"
)

type Source interface {
	ID() string
	ListVideos(ctx context.Context, mid int64) iter.Seq2[domain.CatalogItem, error]
	ListParts(ctx context.Context, aid int64) ([]domain.VideoPart, error)
	ListTags(ctx context.Context, aid int64) ([]string, error)
}

type CreatorStore interface {
	Upsert(ctx context.Context, creator *domain.Creator) error
	ListIDs(ctx context.Context) ([]int64, error)
}

type VideoStore interface {
	Upsert(ctx context.Context, video *domain.Video) (bool, error)
}

type PartStore interface {
	Replace(ctx context.Context, aid int64, parts []domain.VideoPart) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, runID string, video *domain.Video, isNew bool) error
	Close() error
}

// CreatorDelay spaces consecutive creators.
type CreatorDelay interface {
	Observe(count int)
	Wait(ctx context.Context) error
}
