package study

import (
	"context"

	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/schema"
)

// remapReferences rewrites local records that still point at a temporary
// id after the queue replayed its create.
func (s *Service) remapReferences(ctx context.Context, collection string, tempID, serverID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap := func(ids []int64) bool {
		changed := false
		for i, id := range ids {
			if id == tempID {
				ids[i] = serverID
				changed = true
			}
		}
		return changed
	}

	switch collection {
	case schema.CollectionSubjects:
		if err := rewrite(ctx, s.store, schema.CollectionThemes, func(t *schema.Theme) bool {
			changed := swap(t.Lessons)
			for _, ids := range t.Reviews {
				if swap(ids) {
					changed = true
				}
			}
			return changed
		}); err != nil {
			return err
		}
		if err := rewrite(ctx, s.store, schema.CollectionQuestions, func(q *schema.Question) bool {
			return setID(&q.SubjectID, tempID, serverID)
		}); err != nil {
			return err
		}
		return rewrite(ctx, s.store, schema.CollectionAnswers, func(st *schema.Stat) bool {
			return setID(&st.SubjectID, tempID, serverID)
		})

	case schema.CollectionThemes:
		if err := rewrite(ctx, s.store, schema.CollectionSubjects, func(subj *schema.Subject) bool {
			return setID(&subj.ThemeID, tempID, serverID)
		}); err != nil {
			return err
		}
		return rewrite(ctx, s.store, schema.CollectionAnswers, func(st *schema.Stat) bool {
			return setID(&st.ThemeID, tempID, serverID)
		})

	case schema.CollectionQuestions:
		return rewrite(ctx, s.store, schema.CollectionSubjects, func(subj *schema.Subject) bool {
			return swap(subj.QuestionIDs)
		})
	}
	return nil
}

func setID(field *int64, from, to int64) bool {
	if *field != from {
		return false
	}
	*field = to
	return true
}

// rewrite applies fn to every record of collection and stores the ones it
// changed.
func rewrite[T schema.Entity](ctx context.Context, store *db.DB, collection string, fn func(T) bool) error {
	records, err := db.All[T](ctx, store, collection)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if fn(rec) {
			if err := store.Put(ctx, collection, rec); err != nil {
				return err
			}
		}
	}
	return nil
}
