package domain

import (
	"database/sql/driver"
	"fmt"
)

// TouhouStatus records whether a video belongs to the archived subject.
// It is set by a classification process outside the crawler; the crawler
// only ever writes Unchecked on first insert.
type TouhouStatus int

const (
	TouhouUnchecked TouhouStatus = iota
	TouhouAutoMatch
	TouhouAutoReject
	TouhouManualMatch
	TouhouManualReject
)

func ParseTouhouStatus(code int64) (TouhouStatus, error) {
	s := TouhouStatus(code)
	if !s.Valid() {
		return TouhouUnchecked, fmt.Errorf("unknown touhou status code %d", code)
	}
	return s, nil
}

func (s TouhouStatus) Valid() bool {
	return s >= TouhouUnchecked && s <= TouhouManualReject
}

func (s TouhouStatus) String() string {
	switch s {
	case TouhouUnchecked:
		return "unchecked"
	case TouhouAutoMatch:
		return "auto_match"
	case TouhouAutoReject:
		return "auto_reject"
	case TouhouManualMatch:
		return "manual_match"
	case TouhouManualReject:
		return "manual_reject"
	}
	return fmt.Sprintf("TouhouStatus(%d)", int(s))
}

// Scan implements sql.Scanner and rejects codes outside the enum.
func (s *TouhouStatus) Scan(src any) error {
	var code int64
	switch v := src.(type) {
	case int64:
		code = v
	case int32:
		code = int64(v)
	case []byte:
		if _, err := fmt.Sscan(string(v), &code); err != nil {
			return fmt.Errorf("scan touhou status: %w", err)
		}
	case nil:
		*s = TouhouUnchecked
		return nil
	default:
		return fmt.Errorf("scan touhou status: unsupported type %T", src)
	}

	parsed, err := ParseTouhouStatus(code)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s TouhouStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid touhou status %d", int(s))
	}
	return int64(s), nil
}
