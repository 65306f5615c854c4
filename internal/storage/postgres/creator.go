package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"video_archiver/internal/domain"
)

type CreatorStore struct {
	db *sqlx.DB
}

func NewCreatorStore(db *sqlx.DB) *CreatorStore {
	return &CreatorStore{db: db}
}

// Upsert inserts the creator or refreshes its display name. An empty name
// never overwrites a known one.
func (s *CreatorStore) Upsert(ctx context.Context, creator *domain.Creator) error {
	query := `
		INSERT INTO users (mid, name)
		VALUES ($1, $2)
		ON CONFLICT (mid) DO UPDATE SET
			name = EXCLUDED.name,
			updated_at = NOW()
		WHERE users.name IS DISTINCT FROM EXCLUDED.name AND EXCLUDED.name <> ''`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, creator.MID, creator.Name)
	if err != nil {
		return fmt.Errorf("upsert creator %d: %w", creator.MID, mapError(err))
	}
	return nil
}

// ListIDs returns the ids of all stored creators in ascending order.
func (s *CreatorStore) ListIDs(ctx context.Context) ([]int64, error) {
	var mids []int64
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &mids, "SELECT mid FROM users ORDER BY mid"); err != nil {
		return nil, fmt.Errorf("list creators: %w", err)
	}
	return mids, nil
}

func (s *CreatorStore) Get(ctx context.Context, mid int64) (*domain.Creator, error) {
	var creator domain.Creator
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &creator, "SELECT mid, name FROM users WHERE mid = $1", mid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("creator %d: %w", mid, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get creator %d: %w", mid, err)
	}
	return &creator, nil
}
