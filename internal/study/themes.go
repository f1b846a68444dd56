package study

import (
	"context"
	"slices"

	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/endpoint"
	"github.com/studyportal/studysync/internal/schema"
)

// AddTheme activates a theme: unlearned subjects become lessons and
// learned ones are indexed by their review hour. Adding an active theme
// is a no-op.
func (s *Service) AddTheme(ctx context.Context, themeID int64) (*schema.Theme, *Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	theme, err := s.ep.Themes.Get(ctx, themeID, endpoint.GetOptions{})
	if err != nil {
		return nil, nil, err
	}
	m := newMutation(s.store)
	if theme.Active() {
		m.commit()
		return theme, m, nil
	}
	m.keep(schema.CollectionThemes, theme.ID, theme.Clone())

	subjects, err := s.ep.Subjects.GetAll(ctx, endpoint.GetOptions{})
	if err != nil {
		return nil, nil, err
	}
	sortByID(subjects)

	theme.Lessons = []int64{}
	theme.Reviews = map[int64][]int64{}
	for _, subj := range subjects {
		if subj.ThemeID != theme.ID {
			continue
		}
		switch {
		case !subj.Learned():
			theme.Lessons = append(theme.Lessons, subj.ID)
		case subj.NextReview != nil:
			h := *subj.NextReview
			theme.Reviews[h] = append(theme.Reviews[h], subj.ID)
		}
	}

	if err := s.store.Put(ctx, schema.CollectionThemes, theme); err != nil {
		return theme, m, m.fail(err)
	}
	updated, err := s.ep.Themes.Update(ctx, theme.ID, map[string]any{
		"lessons": theme.Lessons,
		"reviews": theme.Reviews,
	})
	if err != nil {
		return theme, m, s.reject(m, "Could not add theme", err)
	}

	m.commit()
	s.log.Info("theme added", "theme", theme.ID, "lessons", len(theme.Lessons), "scheduled", len(theme.Reviews))
	s.publish(schema.CollectionThemes, 1)
	return updated, m, nil
}

// RemoveTheme deactivates a theme and deletes its answer history.
func (s *Service) RemoveTheme(ctx context.Context, themeID int64) (*Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	theme, err := s.ep.Themes.Get(ctx, themeID, endpoint.GetOptions{})
	if err != nil {
		return nil, err
	}
	m := newMutation(s.store)
	if !theme.Active() {
		m.commit()
		return m, nil
	}
	m.keep(schema.CollectionThemes, theme.ID, theme.Clone())

	theme.Lessons = nil
	theme.Reviews = nil
	if err := s.store.Put(ctx, schema.CollectionThemes, theme); err != nil {
		return m, m.fail(err)
	}
	if _, err := s.ep.Themes.Update(ctx, theme.ID, map[string]any{
		"lessons": nil,
		"reviews": nil,
	}); err != nil {
		return m, s.reject(m, "Could not remove theme", err)
	}

	stats, err := db.All[*schema.Stat](ctx, s.store, schema.CollectionAnswers)
	if err != nil {
		return m, m.fail(err)
	}
	stats = slices.DeleteFunc(stats, func(st *schema.Stat) bool { return st.ThemeID != theme.ID })
	for _, st := range stats {
		m.keep(schema.CollectionAnswers, st.ID, st)
		if err := s.ep.Answers.Delete(ctx, st.ID); err != nil {
			return m, s.reject(m, "Could not delete answer history", err)
		}
	}

	m.commit()
	s.log.Info("theme removed", "theme", theme.ID, "stats", len(stats))
	s.publish(schema.CollectionThemes, 1)
	s.publish(schema.CollectionAnswers, len(stats))
	return m, nil
}
