package study

import (
	"context"
	"time"

	"github.com/studyportal/studysync/internal/schema"
	"github.com/studyportal/studysync/internal/srs"
)

// Answer is one submitted review or lesson answer.
type Answer struct {
	SubjectID int64
	Correct   bool
	// Answers is what the user typed, one entry per question.
	Answers []string
	Took    time.Duration
}

// AnswerResult is the outcome of SubmitAnswer.
type AnswerResult struct {
	Subject  *schema.Subject
	Theme    *schema.Theme
	Schedule srs.Result
	Stat     *schema.Stat
	Mutation *Mutation
}

// SubmitAnswer schedules the subject's next review, moves it in the
// theme's review index and appends an answer record.
//
// The new stage and index are stored locally before the API is called.
// If the API rejects any write, the result's mutation is Failed and the
// error is returned alongside the result so the caller can roll back.
func (s *Service) SubmitAnswer(ctx context.Context, a Answer) (*AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject, err := s.GetSubject(ctx, a.SubjectID)
	if err != nil {
		return nil, err
	}
	theme, err := s.activeTheme(ctx, subject.ThemeID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	stat := &schema.Stat{
		Created:   now.Unix(),
		ThemeID:   theme.ID,
		SubjectID: subject.ID,
		Correct:   a.Correct,
		Answers:   a.Answers,
		Took:      int64(a.Took.Round(time.Second) / time.Second),
	}
	if err := stat.Validate(); err != nil {
		return nil, err
	}

	m := newMutation(s.store)
	m.keep(schema.CollectionSubjects, subject.ID, subject.Clone())
	m.keep(schema.CollectionThemes, theme.ID, theme.Clone())

	def := s.Schedule(ctx, subject.SRSID)
	oldHour := subject.NextReview
	res := srs.NextStage(subject.CurrentStage(), a.Correct, def, now)

	stage := res.Stage
	subject.Stage = &stage
	subject.NextReview = res.NextReview
	srs.Move(theme, subject.ID, oldHour, res.NextReview)

	result := &AnswerResult{Subject: subject, Theme: theme, Schedule: res, Mutation: m}
	if err := s.store.Put(ctx, schema.CollectionSubjects, subject); err != nil {
		return result, m.fail(err)
	}
	if err := s.store.Put(ctx, schema.CollectionThemes, theme); err != nil {
		return result, m.fail(err)
	}

	updated, err := s.ep.Subjects.Update(ctx, subject.ID, map[string]any{
		"stage":      subject.Stage,
		"nextReview": subject.NextReview,
	})
	if err != nil {
		return result, s.reject(m, "Could not save answer", err)
	}
	result.Subject = updated

	if _, err := s.ep.Themes.Update(ctx, theme.ID, map[string]any{
		"lessons": theme.Lessons,
		"reviews": theme.Reviews,
	}); err != nil {
		return result, s.reject(m, "Could not save review schedule", err)
	}

	created, err := s.ep.Answers.Create(ctx, stat)
	if err != nil {
		return result, s.reject(m, "Could not save answer history", err)
	}
	result.Stat = created

	m.commit()
	s.log.Debug("answer recorded", "subject", subject.ID, "correct", a.Correct, "stage", stage, "burned", res.Burned())
	s.publish(schema.CollectionSubjects, 1)
	return result, nil
}
