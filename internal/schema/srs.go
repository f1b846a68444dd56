package schema

// SRS is a named spaced-repetition schedule. Timings[i] is the number of
// hours until the next review for a subject entering stage i+1.
type SRS struct {
	ID      int64  `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Timings []int  `json:"timings" yaml:"timings"`
	// OK is the first stage considered known.
	OK      int   `json:"ok" yaml:"ok"`
	Updated int64 `json:"updated" yaml:"-"`
}

func (s *SRS) RecordID() int64      { return s.ID }
func (s *SRS) SetRecordID(id int64) { s.ID = id }
func (s *SRS) UpdatedAt() int64     { return s.Updated }

// Validate checks if the SRS has valid field values.
func (s *SRS) Validate() error {
	if len(s.Timings) == 0 {
		return invalid("srs", "timings", "must not be empty")
	}
	for _, h := range s.Timings {
		if h <= 0 {
			return invalid("srs", "timings", "must be positive hours")
		}
	}
	if s.OK < 0 || s.OK > len(s.Timings)+1 {
		return invalid("srs", "ok", "is out of range")
	}
	return nil
}

// Known reports whether stage has reached the known threshold.
func (s *SRS) Known(stage int) bool {
	return stage >= s.OK
}
