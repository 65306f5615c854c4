package domain

import "errors"

var (
	// ErrSigningUnavailable means no request can be authorized; the run aborts.
	ErrSigningUnavailable = errors.New("signing unavailable")

	// ErrTransientFetch is retried by the fetcher with backoff.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrPermanentFetch skips the current video or creator.
	ErrPermanentFetch = errors.New("permanent fetch error")

	// ErrConstraintViolation is a uniqueness or foreign key violation at write time.
	ErrConstraintViolation = errors.New("constraint violation")
)

// ErrNotFound is returned by lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")
