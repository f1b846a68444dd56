package schema

import "slices"

// Subject is a learnable unit (vocabulary or grammar item).
//
// Stage == nil means the subject has not been learned yet.
// NextReview == nil on a learned subject means it is burned.
type Subject struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Stage       *int    `json:"stage"`
	NextReview  *int64  `json:"nextReview"`
	SRSID       int64   `json:"srsId"`
	ThemeID     int64   `json:"themeId"`
	QuestionIDs []int64 `json:"questionIds"`
	Created     int64   `json:"created"`
	Updated     int64   `json:"updated"`
}

func (s *Subject) RecordID() int64      { return s.ID }
func (s *Subject) SetRecordID(id int64) { s.ID = id }
func (s *Subject) UpdatedAt() int64     { return s.Updated }

// Validate checks if the Subject has valid field values.
func (s *Subject) Validate() error {
	if err := requireTitle("subject", s.Title); err != nil {
		return err
	}
	if s.Stage != nil && *s.Stage < 0 {
		return invalid("subject", "stage", "must not be negative")
	}
	if s.ThemeID == 0 {
		return invalid("subject", "themeId", "is required")
	}
	return nil
}

// Learned reports whether the subject left the lessons stage.
func (s *Subject) Learned() bool {
	return s.Stage != nil
}

// CurrentStage returns the stage, treating an unlearned subject as stage 0.
func (s *Subject) CurrentStage() int {
	if s.Stage == nil {
		return 0
	}
	return *s.Stage
}

// Clone returns a deep copy, used as a rollback snapshot.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	c := *s
	if s.Stage != nil {
		v := *s.Stage
		c.Stage = &v
	}
	if s.NextReview != nil {
		v := *s.NextReview
		c.NextReview = &v
	}
	c.QuestionIDs = slices.Clone(s.QuestionIDs)
	return &c
}
