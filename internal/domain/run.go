package domain

import (
	"errors"
	"time"
)

// Stage names where in the pipeline a failure happened.
type Stage string

const (
	StageCatalog Stage = "catalog"
	StageParts   Stage = "parts"
	StageTags    Stage = "tags"
	StageStore   Stage = "store"
)

type Failure struct {
	MID   int64
	AID   int64
	BVID  string
	Stage Stage
	Err   error
}

// CreatorStats holds statistics about one creator's pass.
type CreatorStats struct {
	MID       int64
	Listed    int
	New       int
	Updated   int
	Failed    int
	Published int
	Aborted   bool
	Duration  time.Duration
}

// RunReport summarizes one orchestration pass over all creators.
type RunReport struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Creators  []CreatorStats
	Failures  []Failure
}

func (r *RunReport) AddFailure(f Failure) {
	r.Failures = append(r.Failures, f)
}

func (r *RunReport) Failed() bool {
	return len(r.Failures) > 0
}

// FailedCreators returns the creators whose catalog walk was aborted.
func (r *RunReport) FailedCreators() []int64 {
	var mids []int64
	for _, c := range r.Creators {
		if c.Aborted {
			mids = append(mids, c.MID)
		}
	}
	return mids
}

func (r *RunReport) CountFailures(target error) int {
	n := 0
	for _, f := range r.Failures {
		if errors.Is(f.Err, target) {
			n++
		}
	}
	return n
}
