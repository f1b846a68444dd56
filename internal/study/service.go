// Package study is the study service: the single object the CLI, the
// review flow and the dashboard use to read themes and subjects and to
// record answers.
//
// Every mutation is applied to the local store first and returns a
// Mutation. When the API rejects the change the mutation is Failed and the
// caller decides whether to Rollback.
package study

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/endpoint"
	"github.com/studyportal/studysync/internal/events"
	"github.com/studyportal/studysync/internal/logging"
	"github.com/studyportal/studysync/internal/queue"
	"github.com/studyportal/studysync/internal/remote"
	"github.com/studyportal/studysync/internal/schema"
	"github.com/studyportal/studysync/internal/srs"
)

// ErrThemeInactive is returned for review queries on a theme the user has
// not added.
var ErrThemeInactive = errors.New("theme is not active")

// Endpoints are the API collections the service works on.
type Endpoints struct {
	Themes    *endpoint.Endpoint[*schema.Theme]
	Subjects  *endpoint.Endpoint[*schema.Subject]
	Questions *endpoint.Endpoint[*schema.Question]
	Answers   *endpoint.Endpoint[*schema.Stat]
	SRS       *endpoint.Endpoint[*schema.SRS]
}

// NewEndpoints creates the endpoints for the study API. Subjects and
// questions write per-user fields through their user-* paths.
func NewEndpoints(store *db.DB, client *remote.Client, q *queue.Queue, conn endpoint.Connectivity, logger *logging.Logger) Endpoints {
	cfg := func(collection, path, writePath string) endpoint.Config {
		return endpoint.Config{Collection: collection, Path: path, WritePath: writePath, Logger: logger}
	}
	return Endpoints{
		SRS:       endpoint.New[*schema.SRS](cfg(schema.CollectionSRS, "/api/study/srs", ""), store, client, q, conn),
		Themes:    endpoint.New[*schema.Theme](cfg(schema.CollectionThemes, "/api/study/themes", ""), store, client, q, conn),
		Subjects:  endpoint.New[*schema.Subject](cfg(schema.CollectionSubjects, "/api/study/subjects", "/api/study/user-subjects"), store, client, q, conn),
		Questions: endpoint.New[*schema.Question](cfg(schema.CollectionQuestions, "/api/study/questions", "/api/study/user-questions"), store, client, q, conn),
		Answers:   endpoint.New[*schema.Stat](cfg(schema.CollectionAnswers, "/api/study/answers", ""), store, client, q, conn),
	}
}

// Config holds service configuration.
type Config struct {
	// Schedules override or complement the SRS definitions from the API.
	Schedules []schema.SRS

	// Now is the clock (default: time.Now).
	Now func() time.Time

	Bus    *events.Bus
	Logger *logging.Logger
}

// Service is the study service.
type Service struct {
	store *db.DB
	ep    Endpoints
	bus   *events.Bus
	log   *logging.Logger
	now   func() time.Time

	schedules map[int64]schema.SRS

	// mu serializes read-modify-write cycles on themes and subjects.
	mu sync.Mutex
}

// New creates the service. When q is not nil the service rewrites local
// references to temporary ids after the queue replays a create.
func New(store *db.DB, ep Endpoints, q *queue.Queue, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	s := &Service{
		store:     store,
		ep:        ep,
		bus:       cfg.Bus,
		log:       cfg.Logger.Named("study"),
		now:       cfg.Now,
		schedules: make(map[int64]schema.SRS),
	}
	for _, def := range cfg.Schedules {
		s.schedules[def.ID] = def
	}
	if q != nil {
		q.OnRemap(s.remapReferences)
	}
	return s
}

// Update refreshes the themes list and announces it on the bus.
func (s *Service) Update(ctx context.Context) ([]*schema.Theme, error) {
	themes, err := s.ep.Themes.GetAll(ctx, endpoint.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load themes: %w", err)
	}
	sortByID(themes)
	s.publish(schema.CollectionThemes, len(themes))
	return themes, nil
}

// Themes returns the cached themes ordered by id.
func (s *Service) Themes(ctx context.Context) ([]*schema.Theme, error) {
	themes, err := s.ep.Themes.GetAll(ctx, endpoint.GetOptions{LocalOnly: true})
	if err != nil {
		return nil, err
	}
	sortByID(themes)
	return themes, nil
}

// GetSubject returns a subject, fetching it when it is not cached.
func (s *Service) GetSubject(ctx context.Context, id int64) (*schema.Subject, error) {
	return s.ep.Subjects.Get(ctx, id, endpoint.GetOptions{})
}

// GetQuestion returns a question, fetching it when it is not cached.
func (s *Service) GetQuestion(ctx context.Context, id int64) (*schema.Question, error) {
	return s.ep.Questions.Get(ctx, id, endpoint.GetOptions{})
}

// Questions returns the questions of a subject, skipping ids that cannot
// be loaded.
func (s *Service) Questions(ctx context.Context, subject *schema.Subject) ([]*schema.Question, error) {
	out := make([]*schema.Question, 0, len(subject.QuestionIDs))
	for _, id := range subject.QuestionIDs {
		q, err := s.GetQuestion(ctx, id)
		if errors.Is(err, endpoint.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// UpdateQuestion applies patch to a question's per-user fields. The merged
// question is validated before any I/O.
func (s *Service) UpdateQuestion(ctx context.Context, id int64, patch map[string]any) (*schema.Question, *Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.GetQuestion(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := validatePatch(current, patch); err != nil {
		return nil, nil, err
	}

	m := newMutation(s.store)
	m.keep(schema.CollectionQuestions, id, clone(current))

	updated, err := s.ep.Questions.Update(ctx, id, patch)
	if err != nil {
		return nil, m, s.reject(m, "Could not save question", err)
	}
	m.commit()
	s.publish(schema.CollectionQuestions, 1)
	return updated, m, nil
}

// Lessons returns the subjects of a theme not learned yet, in lesson order.
func (s *Service) Lessons(ctx context.Context, themeID int64) ([]*schema.Subject, error) {
	theme, err := s.activeTheme(ctx, themeID)
	if err != nil {
		return nil, err
	}
	return s.subjectsByID(ctx, theme.Lessons)
}

// DueReviews returns the subjects of a theme due for review at t, oldest
// first.
func (s *Service) DueReviews(ctx context.Context, themeID int64, t time.Time) ([]*schema.Subject, error) {
	theme, err := s.activeTheme(ctx, themeID)
	if err != nil {
		return nil, err
	}
	return s.subjectsByID(ctx, srs.Due(theme, srs.Hour(t)))
}

// Schedule returns the SRS definition with id. Local overrides win over
// the API; unknown ids fall back to srs.Default.
func (s *Service) Schedule(ctx context.Context, id int64) schema.SRS {
	if def, ok := s.schedules[id]; ok {
		return def
	}
	if s.ep.SRS != nil && id != 0 {
		def, err := s.ep.SRS.Get(ctx, id, endpoint.GetOptions{})
		if err == nil && def.Validate() == nil {
			return *def
		}
		if err != nil && !errors.Is(err, endpoint.ErrNotFound) {
			s.log.Warn("failed to load schedule, using default", "srs", id, "error", err)
		}
	}
	return srs.Default
}

func (s *Service) activeTheme(ctx context.Context, id int64) (*schema.Theme, error) {
	theme, err := s.ep.Themes.Get(ctx, id, endpoint.GetOptions{})
	if err != nil {
		return nil, err
	}
	if !theme.Active() {
		return nil, fmt.Errorf("theme %d: %w", id, ErrThemeInactive)
	}
	return theme, nil
}

func (s *Service) subjectsByID(ctx context.Context, ids []int64) ([]*schema.Subject, error) {
	out := make([]*schema.Subject, 0, len(ids))
	for _, id := range ids {
		subj, err := s.ep.Subjects.Get(ctx, id, endpoint.GetOptions{LocalOnly: true})
		if errors.Is(err, endpoint.ErrNotFound) {
			s.log.Debug("indexed subject missing locally", "id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, subj)
	}
	return out, nil
}

// reject fails m and tells the user why.
func (s *Service) reject(m *Mutation, what string, err error) error {
	m.fail(err)
	if s.bus != nil {
		msg := what
		if re, ok := remote.AsRequestError(err); ok {
			msg = what + ": " + re.UserMessage()
		}
		s.bus.Notify(events.LevelError, msg, "")
	}
	s.log.Warn(what, "error", err)
	return err
}

func (s *Service) publish(collection string, count int) {
	if s.bus != nil {
		s.bus.Publish(events.KindCollection, events.Collection{Collection: collection, Count: count})
	}
}

func sortByID[T schema.Entity](records []T) {
	slices.SortFunc(records, func(a, b T) int { return cmp.Compare(a.RecordID(), b.RecordID()) })
}

// clone deep-copies a record through its JSON form.
func clone[T schema.Entity](v T) T {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// validatePatch checks that current with patch applied is still valid.
func validatePatch[T schema.Entity](current T, patch map[string]any) error {
	doc := map[string]any{}
	data, err := json.Marshal(current)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	for k, v := range patch {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode patch: %w", err)
	}
	var next T
	if err := json.Unmarshal(merged, &next); err != nil {
		return fmt.Errorf("patch does not fit record: %w", err)
	}
	return next.Validate()
}
