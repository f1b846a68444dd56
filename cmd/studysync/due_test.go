package main

import (
	"testing"
	"time"

	"github.com/studyportal/studysync/internal/schema"
)

func TestParseWhen(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

	got, err := parseWhen("in 6 hours", base)
	if err != nil {
		t.Fatalf("parseWhen: %v", err)
	}
	if want := base.Add(6 * time.Hour); !got.Equal(want) {
		t.Errorf("parseWhen(in 6 hours) = %v, want %v", got, want)
	}

	if _, err := parseWhen("purple elephant", base); err == nil {
		t.Error("expected error for unparseable input")
	}
}

func TestNextReview(t *testing.T) {
	theme := &schema.Theme{Reviews: map[int64][]int64{
		100: {1},
		105: {2},
		110: {3},
	}}

	if h := nextReview(theme, 100); h == nil || *h != 105 {
		t.Errorf("nextReview(100) = %v, want 105", h)
	}
	if h := nextReview(theme, 110); h != nil {
		t.Errorf("nextReview(110) = %d, want nil", *h)
	}
}

func TestUpcomingCount(t *testing.T) {
	theme := &schema.Theme{Reviews: map[int64][]int64{
		100: {1},
		105: {2, 3},
		130: {4},
	}}

	if n := upcomingCount(theme, 100, 24); n != 2 {
		t.Errorf("upcomingCount(100, 24) = %d, want 2", n)
	}
	if n := upcomingCount(theme, 99, 48); n != 4 {
		t.Errorf("upcomingCount(99, 48) = %d, want 4", n)
	}
}
