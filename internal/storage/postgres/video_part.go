package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"video_archiver/internal/domain"
)

type partRow struct {
	CID      int64      `db:"cid"`
	AID      int64      `db:"aid"`
	Page     int        `db:"page"`
	Part     string     `db:"part"`
	Duration *int64     `db:"duration"`
	CTime    *time.Time `db:"ctime"`
}

func newPartRow(aid int64, p domain.VideoPart) partRow {
	row := partRow{
		CID:   p.CID,
		AID:   aid,
		Page:  p.Page,
		Part:  p.Part,
		CTime: p.CTime,
	}
	if p.Duration != nil {
		secs := int64(*p.Duration / time.Second)
		row.Duration = &secs
	}
	return row
}

func (r partRow) toDomain() domain.VideoPart {
	part := domain.VideoPart{
		CID:   r.CID,
		AID:   r.AID,
		Page:  r.Page,
		Part:  r.Part,
		CTime: r.CTime,
	}
	if r.Duration != nil {
		d := time.Duration(*r.Duration) * time.Second
		part.Duration = &d
	}
	return part
}

type PartStore struct {
	db *sqlx.DB
}

func NewPartStore(db *sqlx.DB) *PartStore {
	return &PartStore{db: db}
}

// Replace makes parts the complete part list of the video: rows for pages
// that disappeared upstream are deleted.
func (s *PartStore) Replace(ctx context.Context, aid int64, parts []domain.VideoPart) error {
	exec := GetExecutor(ctx, s.db)

	if _, err := exec.ExecContext(ctx, "DELETE FROM video_parts WHERE aid = $1", aid); err != nil {
		return fmt.Errorf("delete parts of video %d: %w", aid, err)
	}

	if len(parts) == 0 {
		return nil
	}

	rows := make([]partRow, 0, len(parts))
	for _, p := range parts {
		rows = append(rows, newPartRow(aid, p))
	}

	query := `
		INSERT INTO video_parts (cid, aid, page, part, duration, ctime)
		VALUES (:cid, :aid, :page, :part, :duration, :ctime)`

	if _, err := sqlx.NamedExecContext(ctx, exec, query, rows); err != nil {
		return fmt.Errorf("insert parts of video %d: %w", aid, mapError(err))
	}
	return nil
}

func (s *PartStore) List(ctx context.Context, aid int64) ([]domain.VideoPart, error) {
	return listParts(ctx, GetExecutor(ctx, s.db), aid)
}

func listParts(ctx context.Context, exec sqlx.ExtContext, aid int64) ([]domain.VideoPart, error) {
	var rows []partRow
	query := `
		SELECT cid, aid, page, part, duration, ctime
		FROM video_parts
		WHERE aid = $1
		ORDER BY page`

	if err := sqlx.SelectContext(ctx, exec, &rows, query, aid); err != nil {
		return nil, fmt.Errorf("list parts of video %d: %w", aid, err)
	}

	parts := make([]domain.VideoPart, 0, len(rows))
	for _, r := range rows {
		parts = append(parts, r.toDomain())
	}
	return parts, nil
}
