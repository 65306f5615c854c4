package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"video_archiver/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ExportFilter narrows the exported set. Zero value exports everything.
type ExportFilter struct {
	Statuses []domain.TouhouStatus
}

type archivedRow struct {
	videoRow
	UploaderName *string `db:"uploader_name"`
}

// ExportStore serves the read-only queries of the exporter.
type ExportStore struct {
	db *sqlx.DB
}

func NewExportStore(db *sqlx.DB) *ExportStore {
	return &ExportStore{db: db}
}

// Videos returns the stored videos, newest first, each with its uploader
// name and its parts ordered by page.
func (s *ExportStore) Videos(ctx context.Context, filter ExportFilter) ([]domain.ArchivedVideo, error) {
	q := psql.
		Select(
			"v.aid", "v.bvid", "v.mid", "v.title", "v.description", "v.pic",
			"v.created", "v.tags", "v.touhou_status", "v.season_id",
			"u.name AS uploader_name",
		).
		From("videos v").
		LeftJoin("users u ON u.mid = v.mid").
		OrderBy("v.created DESC NULLS LAST", "v.aid DESC")

	if len(filter.Statuses) > 0 {
		codes := make([]int64, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			codes = append(codes, int64(st))
		}
		q = q.Where(sq.Expr("v.touhou_status = ANY(?)", pq.Array(codes)))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build video query: %w", err)
	}

	exec := GetExecutor(ctx, s.db)

	var rows []archivedRow
	if err := sqlx.SelectContext(ctx, exec, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select videos: %w", err)
	}

	aids := make([]int64, 0, len(rows))
	for _, r := range rows {
		aids = append(aids, r.AID)
	}

	parts, err := s.partsByVideo(ctx, exec, aids)
	if err != nil {
		return nil, err
	}

	videos := make([]domain.ArchivedVideo, 0, len(rows))
	for _, r := range rows {
		v := domain.ArchivedVideo{
			Video:        r.toDomain(),
			UploaderName: r.UploaderName,
		}
		v.Parts = parts[r.AID]
		videos = append(videos, v)
	}
	return videos, nil
}

func (s *ExportStore) partsByVideo(ctx context.Context, exec sqlx.ExtContext, aids []int64) (map[int64][]domain.VideoPart, error) {
	result := make(map[int64][]domain.VideoPart, len(aids))
	if len(aids) == 0 {
		return result, nil
	}

	query, args, err := psql.
		Select("cid", "aid", "page", "part", "duration", "ctime").
		From("video_parts").
		Where(sq.Expr("aid = ANY(?)", pq.Array(aids))).
		OrderBy("aid", "page").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build part query: %w", err)
	}

	var rows []partRow
	if err := sqlx.SelectContext(ctx, exec, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select parts: %w", err)
	}

	for _, r := range rows {
		result[r.AID] = append(result[r.AID], r.toDomain())
	}
	return result, nil
}

// Counts returns the number of stored videos per classification status.
func (s *ExportStore) Counts(ctx context.Context) (map[domain.TouhouStatus]int, error) {
	query, args, err := psql.
		Select("touhou_status", "COUNT(*) AS n").
		From("videos").
		GroupBy("touhou_status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}

	var rows []struct {
		Status domain.TouhouStatus `db:"touhou_status"`
		N      int                 `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("count videos: %w", err)
	}

	counts := make(map[domain.TouhouStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
