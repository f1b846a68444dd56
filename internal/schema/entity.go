package schema

import (
	"fmt"
	"strings"
)

// Collection names, shared by the local store tables and the sync markers.
const (
	CollectionThemes    = "themes"
	CollectionSubjects  = "subjects"
	CollectionQuestions = "questions"
	CollectionAnswers   = "answers"
	CollectionSRS       = "srs"
)

// Collections lists every entity collection in sync order.
var Collections = []string{
	CollectionSRS,
	CollectionThemes,
	CollectionSubjects,
	CollectionQuestions,
	CollectionAnswers,
}

// Entity is implemented by every record persisted in an entity collection.
type Entity interface {
	RecordID() int64
	SetRecordID(id int64)
	// UpdatedAt returns the server update time in unix seconds.
	UpdatedAt() int64
	Validate() error
}

// ValidationError reports a record that failed the local schema check.
// It is returned before any I/O happens.
type ValidationError struct {
	Kind    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Kind, e.Field, e.Message)
}

func invalid(kind, field, msg string) error {
	return &ValidationError{Kind: kind, Field: field, Message: msg}
}

func requireTitle(kind, title string) error {
	if strings.TrimSpace(title) == "" {
		return invalid(kind, "title", "is required")
	}
	if len(title) > 500 {
		return invalid(kind, "title", fmt.Sprintf("must be 500 characters or less (got %d)", len(title)))
	}
	return nil
}

// IsTemporaryID reports whether id was allocated locally for an offline create.
func IsTemporaryID(id int64) bool {
	return id < 0
}
