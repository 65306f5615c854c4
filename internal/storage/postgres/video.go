package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"video_archiver/internal/domain"
)

type videoRow struct {
	AID          int64               `db:"aid"`
	BVID         string              `db:"bvid"`
	MID          int64               `db:"mid"`
	Title        string              `db:"title"`
	Description  *string             `db:"description"`
	Pic          *string             `db:"pic"`
	Created      *time.Time          `db:"created"`
	Tags         pq.StringArray      `db:"tags"`
	TouhouStatus domain.TouhouStatus `db:"touhou_status"`
	SeasonID     *int64              `db:"season_id"`
}

func (r videoRow) toDomain() domain.Video {
	return domain.Video{
		AID:          r.AID,
		BVID:         r.BVID,
		MID:          r.MID,
		Title:        r.Title,
		Description:  r.Description,
		Pic:          r.Pic,
		Created:      r.Created,
		Tags:         []string(r.Tags),
		TouhouStatus: r.TouhouStatus,
		SeasonID:     r.SeasonID,
	}
}

type VideoStore struct {
	db *sqlx.DB
}

func NewVideoStore(db *sqlx.DB) *VideoStore {
	return &VideoStore{db: db}
}

// Upsert writes every catalog field of the video. On update touhou_status
// is left as stored, so manual classifications survive re-crawls.
// Reports whether the row was newly inserted.
func (s *VideoStore) Upsert(ctx context.Context, video *domain.Video) (bool, error) {
	query := `
		INSERT INTO videos (
			aid, bvid, mid, title, description, pic, created, tags, touhou_status, season_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (aid) DO UPDATE SET
			bvid = EXCLUDED.bvid,
			mid = EXCLUDED.mid,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			pic = EXCLUDED.pic,
			created = EXCLUDED.created,
			tags = EXCLUDED.tags,
			season_id = EXCLUDED.season_id,
			updated_at = NOW()
		RETURNING (xmax = 0) AS inserted`

	tags := video.Tags
	if tags == nil {
		tags = []string{}
	}

	var inserted bool
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		video.AID,
		video.BVID,
		video.MID,
		video.Title,
		video.Description,
		video.Pic,
		video.Created,
		pq.Array(tags),
		video.TouhouStatus,
		video.SeasonID,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert video %d: %w", video.AID, mapError(err))
	}

	return inserted, nil
}

// Get returns the stored video with its parts ordered by page.
func (s *VideoStore) Get(ctx context.Context, aid int64) (*domain.Video, error) {
	query := `
		SELECT aid, bvid, mid, title, description, pic, created, tags, touhou_status, season_id
		FROM videos
		WHERE aid = $1`

	exec := GetExecutor(ctx, s.db)

	var row videoRow
	if err := sqlx.GetContext(ctx, exec, &row, query, aid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("video %d: %w", aid, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get video %d: %w", aid, err)
	}

	video := row.toDomain()

	parts, err := listParts(ctx, exec, aid)
	if err != nil {
		return nil, err
	}
	video.Parts = parts

	return &video, nil
}

// SetTouhouStatus records a classification decision for one video.
func (s *VideoStore) SetTouhouStatus(ctx context.Context, aid int64, status domain.TouhouStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set status of video %d: invalid status %d", aid, int(status))
	}

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"UPDATE videos SET touhou_status = $1, updated_at = NOW() WHERE aid = $2",
		status, aid,
	)
	if err != nil {
		return fmt.Errorf("set status of video %d: %w", aid, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status of video %d: %w", aid, err)
	}
	if n == 0 {
		return fmt.Errorf("video %d: %w", aid, domain.ErrNotFound)
	}
	return nil
}
