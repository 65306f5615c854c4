package postgres

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"video_archiver/internal/domain"
)

const (
	codeUniqueViolation     pq.ErrorCode = "23505"
	codeForeignKeyViolation pq.ErrorCode = "23503"
)

// mapError turns uniqueness and foreign key violations into
// domain.ErrConstraintViolation and leaves other errors as they are.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeUniqueViolation, codeForeignKeyViolation:
		return fmt.Errorf("%w: %s: %w", domain.ErrConstraintViolation, pqErr.Constraint, err)
	}
	return err
}
