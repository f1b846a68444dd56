package schema

// Stat is one entry of the answer history. Stats are append-only and are
// removed in bulk when their theme is deactivated.
type Stat struct {
	ID        int64    `json:"id"`
	Created   int64    `json:"created"`
	ThemeID   int64    `json:"themeId"`
	SubjectID int64    `json:"subjectId"`
	Correct   bool     `json:"correct"`
	Answers   []string `json:"answers"`
	Took      int64    `json:"took"`
	Updated   int64    `json:"updated"`
}

func (s *Stat) RecordID() int64      { return s.ID }
func (s *Stat) SetRecordID(id int64) { s.ID = id }
func (s *Stat) UpdatedAt() int64     { return s.Updated }

// Validate checks if the Stat has valid field values.
func (s *Stat) Validate() error {
	if s.SubjectID == 0 {
		return invalid("stat", "subjectId", "is required")
	}
	if s.ThemeID == 0 {
		return invalid("stat", "themeId", "is required")
	}
	if s.Created <= 0 {
		return invalid("stat", "created", "is required")
	}
	if s.Took < 0 {
		return invalid("stat", "took", "must not be negative")
	}
	return nil
}
