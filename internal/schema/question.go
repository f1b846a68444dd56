package schema

import "strings"

// Question belongs to exactly one Subject.
type Question struct {
	ID               int64             `json:"id"`
	Question         string            `json:"question"`
	Description      string            `json:"description"`
	Answers          []string          `json:"answers"`
	SubjectID        int64             `json:"subjectId"`
	AlternateAnswers map[string]string `json:"alternateAnswers,omitempty"`
	Synonyms         []string          `json:"synonyms,omitempty"`
	Note             string            `json:"note,omitempty"`
	Created          int64             `json:"created"`
	Updated          int64             `json:"updated"`
}

func (q *Question) RecordID() int64      { return q.ID }
func (q *Question) SetRecordID(id int64) { q.ID = id }
func (q *Question) UpdatedAt() int64     { return q.Updated }

// Validate checks if the Question has valid field values.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return invalid("question", "question", "is required")
	}
	if len(q.Answers) == 0 {
		return invalid("question", "answers", "must contain at least one answer")
	}
	if q.SubjectID == 0 {
		return invalid("question", "subjectId", "is required")
	}
	return nil
}

// Accepts reports whether answer matches one of the answers or synonyms.
// The second return value is the alternate-answer hint when the answer is a
// known near miss.
func (q *Question) Accepts(answer string) (bool, string) {
	a := normalizeAnswer(answer)
	for _, want := range q.Answers {
		if normalizeAnswer(want) == a {
			return true, ""
		}
	}
	for _, syn := range q.Synonyms {
		if normalizeAnswer(syn) == a {
			return true, ""
		}
	}
	for alt, hint := range q.AlternateAnswers {
		if normalizeAnswer(alt) == a {
			return false, hint
		}
	}
	return false, ""
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
