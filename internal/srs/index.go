package srs

import (
	"errors"
	"fmt"
	"slices"

	"github.com/studyportal/studysync/internal/schema"
)

// Move files subject id under newHour in theme's review index.
//
// The id is removed from the lessons list and from the oldHour bucket (or
// any other bucket still holding it); buckets left empty are deleted. A nil
// newHour only removes it, which is how burned subjects leave the index.
func Move(theme *schema.Theme, id int64, oldHour, newHour *int64) {
	theme.Lessons = slices.DeleteFunc(theme.Lessons, func(v int64) bool { return v == id })

	removed := false
	if oldHour != nil {
		removed = removeFromBucket(theme, *oldHour, id)
	}
	if !removed {
		for h := range theme.Reviews {
			removeFromBucket(theme, h, id)
		}
	}

	if newHour == nil {
		return
	}
	if theme.Reviews == nil {
		theme.Reviews = make(map[int64][]int64)
	}
	if !slices.Contains(theme.Reviews[*newHour], id) {
		theme.Reviews[*newHour] = append(theme.Reviews[*newHour], id)
	}
}

// Remove drops id from every aggregate of theme.
func Remove(theme *schema.Theme, id int64) {
	Move(theme, id, nil, nil)
}

func removeFromBucket(theme *schema.Theme, hour, id int64) bool {
	bucket, ok := theme.Reviews[hour]
	if !ok {
		return false
	}
	i := slices.Index(bucket, id)
	if i < 0 {
		return false
	}
	bucket = slices.Delete(bucket, i, i+1)
	if len(bucket) == 0 {
		delete(theme.Reviews, hour)
	} else {
		theme.Reviews[hour] = bucket
	}
	return true
}

// Due returns the subject ids whose review hour is at or before hour,
// oldest bucket first.
func Due(theme *schema.Theme, hour int64) []int64 {
	var ids []int64
	for _, h := range theme.ReviewHours() {
		if h > hour {
			break
		}
		ids = append(ids, theme.Reviews[h]...)
	}
	return ids
}

// Upcoming returns the number of reviews per hour after hour, up to limit hours ahead.
func Upcoming(theme *schema.Theme, hour, limit int64) map[int64]int {
	out := make(map[int64]int)
	for h, ids := range theme.Reviews {
		if h > hour && h <= hour+limit {
			out[h] = len(ids)
		}
	}
	return out
}

// Check verifies the review index of theme against its subjects: every
// scheduled subject sits in exactly the bucket of its NextReview, and every
// indexed id belongs to a known subject of the theme.
func Check(theme *schema.Theme, subjects []*schema.Subject) error {
	var errs []error

	byID := make(map[int64]*schema.Subject, len(subjects))
	for _, s := range subjects {
		if s.ThemeID == theme.ID {
			byID[s.ID] = s
		}
	}

	seen := make(map[int64]int64)
	for h, ids := range theme.Reviews {
		for _, id := range ids {
			if prev, dup := seen[id]; dup {
				errs = append(errs, fmt.Errorf("subject %d indexed at hours %d and %d", id, prev, h))
				continue
			}
			seen[id] = h

			s, ok := byID[id]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("subject %d indexed at hour %d does not exist", id, h))
			case s.NextReview == nil:
				errs = append(errs, fmt.Errorf("subject %d indexed at hour %d has no next review", id, h))
			case *s.NextReview != h:
				errs = append(errs, fmt.Errorf("subject %d indexed at hour %d, next review is %d", id, h, *s.NextReview))
			}
		}
	}

	for id, s := range byID {
		if s.NextReview == nil {
			continue
		}
		if _, ok := seen[id]; !ok {
			errs = append(errs, fmt.Errorf("subject %d due at hour %d is not indexed", id, *s.NextReview))
		}
	}

	return errors.Join(errs...)
}
