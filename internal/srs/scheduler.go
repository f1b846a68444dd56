// Package srs implements the stage-table spaced-repetition schedule and the
// per-theme index of review hours.
//
// Stages count successful reviews. A correct answer advances one stage, a
// wrong one drops two, never below stage 1 once a subject has been answered
// correctly. Stage len(Timings) and above is "burned": the subject is known
// for good and no longer scheduled.
package srs

import (
	"time"

	"github.com/studyportal/studysync/internal/schema"
)

// Result is the outcome of one answer.
type Result struct {
	Stage int
	// NextReview is the unix hour of the next review, nil once burned.
	NextReview *int64
}

// Burned reports whether the subject left the schedule.
func (r Result) Burned() bool {
	return r.NextReview == nil
}

// Hour returns t as a unix hour.
func Hour(t time.Time) int64 {
	return t.Unix() / 3600
}

// HourTime converts a unix hour back to a time.
func HourTime(h int64) time.Time {
	return time.Unix(h*3600, 0)
}

// NextStage computes the stage and review hour following an answer.
//
// A wrong first answer (stage 0) keeps the subject at stage 0 and schedules
// it after the first interval.
func NextStage(current int, correct bool, def schema.SRS, now time.Time) Result {
	n := len(def.Timings)

	var stage int
	switch {
	case current <= 0 && !correct:
		stage = 0
	case correct:
		stage = clamp(current+1, 1, n+1)
	default:
		stage = clamp(current-2, 1, n+1)
	}

	if stage >= n {
		return Result{Stage: stage}
	}

	wait := def.Timings[0]
	if stage > 0 {
		wait = def.Timings[stage-1]
	}
	next := Hour(now) + int64(wait)
	return Result{Stage: stage, NextReview: &next}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
