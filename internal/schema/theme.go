package schema

import (
	"maps"
	"slices"
)

// Theme groups subjects. Lessons and Reviews are only present once the user
// has activated the theme.
type Theme struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`

	// Lessons holds subjects not learned yet.
	Lessons []int64 `json:"lessons"`
	// Reviews maps a unix review hour to the subjects due at that hour.
	Reviews map[int64][]int64 `json:"reviews"`
}

func (t *Theme) RecordID() int64      { return t.ID }
func (t *Theme) SetRecordID(id int64) { t.ID = id }
func (t *Theme) UpdatedAt() int64     { return t.Updated }

// Validate checks if the Theme has valid field values.
func (t *Theme) Validate() error {
	return requireTitle("theme", t.Title)
}

// Active reports whether the user has enabled this theme.
func (t *Theme) Active() bool {
	return t.Lessons != nil || t.Reviews != nil
}

// Clone returns a deep copy, used as a rollback snapshot.
func (t *Theme) Clone() *Theme {
	if t == nil {
		return nil
	}
	c := *t
	c.Lessons = slices.Clone(t.Lessons)
	if t.Reviews != nil {
		c.Reviews = make(map[int64][]int64, len(t.Reviews))
		for h, ids := range t.Reviews {
			c.Reviews[h] = slices.Clone(ids)
		}
	}
	return &c
}

// ReviewHours returns the bucket keys in ascending order.
func (t *Theme) ReviewHours() []int64 {
	return slices.Sorted(maps.Keys(t.Reviews))
}
