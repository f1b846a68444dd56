package study

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyportal/studysync/internal/apitest"
	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/events"
	"github.com/studyportal/studysync/internal/queue"
	"github.com/studyportal/studysync/internal/remote"
	"github.com/studyportal/studysync/internal/schema"
	"github.com/studyportal/studysync/internal/srs"
	syncer "github.com/studyportal/studysync/internal/sync"
)

var now = time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

type fixture struct {
	api   *apitest.Server
	store *db.DB
	queue *queue.Queue
	bus   *events.Bus
	conn  *syncer.Connectivity
	ep    Endpoints
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := apitest.New(t)
	store, err := db.Open(filepath.Join(t.TempDir(), "study.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	bus := events.New(nil)
	conn := syncer.NewConnectivity(bus)
	q := queue.New(store, queue.Config{Bus: bus})
	client := remote.New(remote.Config{BaseURL: api.URL, Retries: 1, RetryInterval: time.Millisecond})
	ep := NewEndpoints(store, client, q, conn, nil)
	svc := New(store, ep, q, Config{Bus: bus, Now: func() time.Time { return now }})

	return &fixture{api: api, store: store, queue: q, bus: bus, conn: conn, ep: ep, svc: svc}
}

// seed stores records on the fake API and in the local cache.
func (f *fixture) seed(t *testing.T, collection string, records ...schema.Entity) {
	t.Helper()
	for _, r := range records {
		f.api.Seed(collection, r)
		require.NoError(t, f.store.Put(context.Background(), collection, r))
	}
}

func (f *fixture) local(t *testing.T, id int64) *schema.Subject {
	t.Helper()
	s, ok, err := db.GetAs[*schema.Subject](context.Background(), f.store, schema.CollectionSubjects, id)
	require.NoError(t, err)
	require.True(t, ok, "subject %d missing", id)
	return s
}

func (f *fixture) localTheme(t *testing.T, id int64) *schema.Theme {
	t.Helper()
	th, ok, err := db.GetAs[*schema.Theme](context.Background(), f.store, schema.CollectionThemes, id)
	require.NoError(t, err)
	require.True(t, ok, "theme %d missing", id)
	return th
}

func ptr[T any](v T) *T { return &v }

var shortSRS = &schema.SRS{ID: 7, Title: "short", Timings: []int{4, 8, 23}, OK: 2, Updated: 1}

// seedReview sets up theme 1 with subject 10 at stage 2 due now.
func (f *fixture) seedReview(t *testing.T) int64 {
	t.Helper()
	hour := srs.Hour(now)
	f.seed(t, schema.CollectionSRS, shortSRS)
	f.seed(t, schema.CollectionThemes, &schema.Theme{
		ID: 1, Title: "Verbs", Updated: 1,
		Lessons: []int64{11},
		Reviews: map[int64][]int64{hour: {10}},
	})
	f.seed(t, schema.CollectionSubjects,
		&schema.Subject{ID: 10, Title: "taberu", Stage: ptr(2), NextReview: ptr(hour), SRSID: 7, ThemeID: 1, Updated: 1},
		&schema.Subject{ID: 11, Title: "nomu", SRSID: 7, ThemeID: 1, Updated: 1},
	)
	return hour
}

func TestSubmitAnswer_CorrectAnswerBurns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedReview(t)

	res, err := f.svc.SubmitAnswer(ctx, Answer{SubjectID: 10, Correct: true, Answers: []string{"to eat"}, Took: 4 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, Committed, res.Mutation.State())
	assert.Equal(t, 3, res.Schedule.Stage)
	assert.True(t, res.Schedule.Burned())
	require.NotNil(t, res.Stat)
	assert.Positive(t, res.Stat.ID)
	assert.Equal(t, int64(4), res.Stat.Took)

	subj := f.local(t, 10)
	assert.Equal(t, 3, *subj.Stage)
	assert.Nil(t, subj.NextReview)

	theme := f.localTheme(t, 1)
	assert.Empty(t, theme.Reviews)
	assert.True(t, theme.Active())
	require.NoError(t, srs.Check(theme, []*schema.Subject{subj, f.local(t, 11)}))

	remoteSubj, ok := f.api.Record("subjects", 10)
	require.True(t, ok)
	assert.EqualValues(t, 3, remoteSubj["stage"])
	assert.Equal(t, 1, f.api.Len("answers"))
}

func TestSubmitAnswer_WrongLessonStaysAtZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hour := f.seedReview(t)

	res, err := f.svc.SubmitAnswer(ctx, Answer{SubjectID: 11, Correct: false, Answers: []string{"to run"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Schedule.Stage)

	subj := f.local(t, 11)
	require.NotNil(t, subj.Stage)
	assert.Equal(t, 0, *subj.Stage)
	require.NotNil(t, subj.NextReview)
	assert.Equal(t, hour+4, *subj.NextReview)

	theme := f.localTheme(t, 1)
	assert.NotContains(t, theme.Lessons, int64(11))
	assert.Equal(t, []int64{11}, theme.Reviews[hour+4])
	assert.Equal(t, []int64{10}, theme.Reviews[hour])
}

func TestSubmitAnswer_OfflineQueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedReview(t)
	f.api.SetOffline(true)

	res, err := f.svc.SubmitAnswer(ctx, Answer{SubjectID: 10, Correct: false, Answers: []string{"?"}})
	require.NoError(t, err)
	assert.Equal(t, Committed, res.Mutation.State())
	assert.False(t, f.conn.Online())
	assert.Equal(t, 1, res.Schedule.Stage)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, schema.CollectionSubjects, pending[0].Collection)
	assert.Equal(t, schema.CollectionThemes, pending[1].Collection)
	assert.Equal(t, schema.CollectionAnswers, pending[2].Collection)
	assert.True(t, schema.IsTemporaryID(res.Stat.ID))

	f.api.SetOffline(false)
	dr, err := f.queue.Drain(ctx, queue.DrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, dr.Replayed)
	assert.Equal(t, 1, f.api.Len("answers"))

	remoteSubj, ok := f.api.Record("subjects", 10)
	require.True(t, ok)
	assert.EqualValues(t, 1, remoteSubj["stage"])
}

func TestSubmitAnswer_RejectedRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hour := f.seedReview(t)
	f.api.Fail("PUT", "/api/study/user-subjects/10", 409)

	res, err := f.svc.SubmitAnswer(ctx, Answer{SubjectID: 10, Correct: true})
	require.Error(t, err)
	assert.True(t, remote.IsClient(err))
	require.NotNil(t, res)

	m := res.Mutation
	assert.Equal(t, Failed, m.State())
	assert.Equal(t, err, m.Err())

	// The optimistic values stay until the caller rolls back.
	assert.Equal(t, 3, *f.local(t, 10).Stage)

	ev, ok := f.bus.Last(events.KindNotice)
	require.True(t, ok)
	notice := ev.Data.(events.Notice)
	assert.Equal(t, events.LevelError, notice.Level)
	assert.Contains(t, notice.Message, "forced 409")

	require.NoError(t, m.Rollback(ctx))
	assert.Equal(t, Committed, m.State())

	subj := f.local(t, 10)
	assert.Equal(t, 2, *subj.Stage)
	assert.Equal(t, hour, *subj.NextReview)
	assert.Equal(t, []int64{10}, f.localTheme(t, 1).Reviews[hour])

	assert.ErrorIs(t, m.Rollback(ctx), ErrNotFailed)
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitAnswer_InactiveTheme(t *testing.T) {
	f := newFixture(t)
	f.seed(t, schema.CollectionThemes, &schema.Theme{ID: 3, Title: "Inactive", Updated: 1})
	f.seed(t, schema.CollectionSubjects, &schema.Subject{ID: 30, Title: "x", ThemeID: 3, Updated: 1})

	_, err := f.svc.SubmitAnswer(context.Background(), Answer{SubjectID: 30, Correct: true})
	assert.ErrorIs(t, err, ErrThemeInactive)
}

func TestAddTheme(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, schema.CollectionThemes, &schema.Theme{ID: 2, Title: "Nouns", Updated: 1})
	f.seed(t, schema.CollectionSubjects,
		&schema.Subject{ID: 21, Title: "mizu", ThemeID: 2, Updated: 1},
		&schema.Subject{ID: 20, Title: "hi", ThemeID: 2, Updated: 1},
		&schema.Subject{ID: 22, Title: "ki", Stage: ptr(1), NextReview: ptr(int64(500)), ThemeID: 2, Updated: 1},
		&schema.Subject{ID: 23, Title: "yama", Stage: ptr(9), ThemeID: 2, Updated: 1},
		&schema.Subject{ID: 40, Title: "other", ThemeID: 4, Updated: 1},
	)

	theme, m, err := f.svc.AddTheme(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Committed, m.State())
	assert.Equal(t, []int64{20, 21}, theme.Lessons)
	assert.Equal(t, map[int64][]int64{500: {22}}, theme.Reviews)

	local := f.localTheme(t, 2)
	assert.True(t, local.Active())
	assert.Equal(t, []int64{20, 21}, local.Lessons)

	lessons, err := f.svc.Lessons(ctx, 2)
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, "hi", lessons[0].Title)

	f.api.ResetRequests()
	_, m, err = f.svc.AddTheme(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Committed, m.State())
	for _, r := range f.api.Requests() {
		assert.NotContains(t, r, "PUT")
	}
}

func TestRemoveTheme_PrunesStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedReview(t)
	f.seed(t, schema.CollectionAnswers,
		&schema.Stat{ID: 100, Created: now.Unix(), ThemeID: 1, SubjectID: 10, Correct: true, Updated: 1},
		&schema.Stat{ID: 101, Created: now.Unix(), ThemeID: 1, SubjectID: 11, Updated: 1},
		&schema.Stat{ID: 102, Created: now.Unix(), ThemeID: 5, SubjectID: 50, Updated: 1},
	)

	m, err := f.svc.RemoveTheme(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Committed, m.State())

	assert.False(t, f.localTheme(t, 1).Active())
	keys, err := f.store.GetAllKeys(ctx, schema.CollectionAnswers)
	require.NoError(t, err)
	assert.Equal(t, []int64{102}, keys)
	assert.Equal(t, 1, f.api.Len("answers"))

	_, err = f.svc.DueReviews(ctx, 1, now)
	assert.ErrorIs(t, err, ErrThemeInactive)
}

func TestRemoveTheme_RollbackRestoresStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedReview(t)
	f.seed(t, schema.CollectionAnswers,
		&schema.Stat{ID: 100, Created: now.Unix(), ThemeID: 1, SubjectID: 10, Updated: 1},
	)
	f.api.Fail("DELETE", "/api/study/answers/100", 403)

	m, err := f.svc.RemoveTheme(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, Failed, m.State())

	require.NoError(t, m.Rollback(ctx))
	assert.True(t, f.localTheme(t, 1).Active())
	n, err := f.store.Count(ctx, schema.CollectionAnswers)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDueReviews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, schema.CollectionThemes, &schema.Theme{
		ID: 6, Title: "Due", Updated: 1,
		Lessons: []int64{},
		Reviews: map[int64][]int64{100: {1}, 200: {2, 4}, 300: {3}},
	})
	for _, s := range []*schema.Subject{
		{ID: 1, Title: "a", Stage: ptr(1), NextReview: ptr(int64(100)), ThemeID: 6, Updated: 1},
		{ID: 2, Title: "b", Stage: ptr(1), NextReview: ptr(int64(200)), ThemeID: 6, Updated: 1},
		{ID: 3, Title: "c", Stage: ptr(1), NextReview: ptr(int64(300)), ThemeID: 6, Updated: 1},
	} {
		f.seed(t, schema.CollectionSubjects, s)
	}

	due, err := f.svc.DueReviews(ctx, 6, srs.HourTime(200))
	require.NoError(t, err)
	// Subject 4 is indexed but not cached and is skipped.
	require.Len(t, due, 2)
	assert.Equal(t, int64(1), due[0].ID)
	assert.Equal(t, int64(2), due[1].ID)
}

func TestUpdateQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, schema.CollectionQuestions, &schema.Question{
		ID: 70, Question: "食べる", Answers: []string{"to eat"}, SubjectID: 10, Updated: 1,
	})

	f.api.ResetRequests()
	_, _, err := f.svc.UpdateQuestion(ctx, 70, map[string]any{"answers": []string{}})
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	for _, r := range f.api.Requests() {
		assert.NotContains(t, r, "PUT")
	}

	q, m, err := f.svc.UpdateQuestion(ctx, 70, map[string]any{"note": "ichidan verb", "synonyms": []string{"eat"}})
	require.NoError(t, err)
	assert.Equal(t, Committed, m.State())
	assert.Equal(t, "ichidan verb", q.Note)

	ok, _ := q.Accepts("Eat")
	assert.True(t, ok)

	remoteQ, found := f.api.Record("questions", 70)
	require.True(t, found)
	assert.Equal(t, "ichidan verb", remoteQ["note"])
}

func TestStatsGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	day := func(d, h int) int64 { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC).Unix() }
	stats := []*schema.Stat{
		{ID: 1, Created: day(10, 1), ThemeID: 1, SubjectID: 1, Correct: true},
		{ID: 2, Created: day(10, 9), ThemeID: 1, SubjectID: 2, Correct: false},
		{ID: 3, Created: day(9, 23), ThemeID: 2, SubjectID: 3, Correct: true},
		{ID: 4, Created: day(8, 0), ThemeID: 1, SubjectID: 4, Correct: true},
		{ID: 5, Created: day(1, 12), ThemeID: 1, SubjectID: 5, Correct: true},
	}
	for _, st := range stats {
		require.NoError(t, f.store.Put(ctx, schema.CollectionAnswers, st))
	}

	graph, err := f.svc.StatsGraph(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, graph, 3)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), graph[0].Day)
	assert.Equal(t, DayStats{Day: graph[0].Day, Correct: 1}, graph[0])
	assert.Equal(t, 1, graph[1].Correct)
	assert.Equal(t, 1, graph[2].Correct)
	assert.Equal(t, 1, graph[2].Incorrect)
	assert.Equal(t, 2, graph[2].Total())

	graph, err = f.svc.StatsGraph(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, graph[2].Total())
	assert.Equal(t, 1, graph[1].Total())

	graph, err = f.svc.StatsGraph(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, graph)
}

func TestRemapReferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, schema.CollectionThemes, &schema.Theme{ID: 1, Title: "Verbs", Updated: 1, Lessons: []int64{}, Reviews: map[int64][]int64{}})

	f.api.SetOffline(true)
	subj, err := f.ep.Subjects.Create(ctx, &schema.Subject{Title: "hashiru", ThemeID: 1})
	require.NoError(t, err)
	tempID := subj.ID
	require.True(t, schema.IsTemporaryID(tempID))

	theme := f.localTheme(t, 1)
	theme.Lessons = append(theme.Lessons, tempID)
	require.NoError(t, f.store.Put(ctx, schema.CollectionThemes, theme))
	require.NoError(t, f.store.Put(ctx, schema.CollectionQuestions, &schema.Question{ID: 80, Question: "走る", Answers: []string{"to run"}, SubjectID: tempID}))

	f.api.SetOffline(false)
	_, err = f.queue.Drain(ctx, queue.DrainOptions{})
	require.NoError(t, err)

	keys, err := f.store.GetAllKeys(ctx, schema.CollectionSubjects)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	serverID := keys[0]
	assert.Positive(t, serverID)

	assert.Equal(t, []int64{serverID}, f.localTheme(t, 1).Lessons)
	q, ok, err := db.GetAs[*schema.Question](ctx, f.store, schema.CollectionQuestions, 80)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, serverID, q.SubjectID)
}

func TestSchedule_Overrides(t *testing.T) {
	f := newFixture(t)
	custom := schema.SRS{ID: 9, Title: "custom", Timings: []int{1, 2}, OK: 1}
	svc := New(f.store, f.ep, nil, Config{Schedules: []schema.SRS{custom}})

	assert.Equal(t, custom, svc.Schedule(context.Background(), 9))
	assert.Equal(t, srs.Default, svc.Schedule(context.Background(), 0))
	assert.Equal(t, srs.Default, svc.Schedule(context.Background(), 12345))
}
