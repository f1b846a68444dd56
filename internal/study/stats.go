package study

import (
	"context"
	"encoding/json"
	"time"

	"github.com/studyportal/studysync/internal/schema"
)

// DayStats counts the answers of one calendar day.
type DayStats struct {
	Day       time.Time `json:"day"`
	Correct   int       `json:"correct"`
	Incorrect int       `json:"incorrect"`
}

// Total returns the number of answers.
func (d DayStats) Total() int {
	return d.Correct + d.Incorrect
}

// StatsGraph returns one entry per day for the last days days ending
// today, oldest first, computed from the local answer history. A non-zero
// themeID limits it to that theme.
func (s *Service) StatsGraph(ctx context.Context, themeID int64, days int) ([]DayStats, error) {
	if days <= 0 {
		return nil, nil
	}
	now := s.now()
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	first := today.AddDate(0, 0, -(days - 1))

	graph := make([]DayStats, days)
	for i := range graph {
		graph[i].Day = first.AddDate(0, 0, i)
	}

	for raw, err := range s.store.Cursor(ctx, schema.CollectionAnswers) {
		if err != nil {
			return nil, err
		}
		st, err := decodeStat(raw)
		if err != nil {
			s.log.Warn("skipping unreadable answer record", "error", err)
			continue
		}
		if themeID != 0 && st.ThemeID != themeID {
			continue
		}

		t := time.Unix(st.Created, 0).In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if day.Before(first) || day.After(today) {
			continue
		}
		i := 0
		for i < days-1 && graph[i+1].Day.Compare(day) <= 0 {
			i++
		}
		if st.Correct {
			graph[i].Correct++
		} else {
			graph[i].Incorrect++
		}
	}
	return graph, nil
}

func decodeStat(raw json.RawMessage) (*schema.Stat, error) {
	var st schema.Stat
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
