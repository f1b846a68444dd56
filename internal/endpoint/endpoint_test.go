package endpoint

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyportal/studysync/internal/apitest"
	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/queue"
	"github.com/studyportal/studysync/internal/remote"
	"github.com/studyportal/studysync/internal/schema"
)

type fakeConn struct {
	mu     sync.Mutex
	online bool
	errs   []error
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) Observe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
	if err == nil {
		c.online = true
	} else if remote.IsOffline(err) {
		c.online = false
	}
}

type fixture struct {
	api      *apitest.Server
	store    *db.DB
	queue    *queue.Queue
	conn     *fakeConn
	subjects *Endpoint[*schema.Subject]
	themes   *Endpoint[*schema.Theme]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := apitest.New(t)

	store, err := db.Open(filepath.Join(t.TempDir(), "endpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	client := remote.New(remote.Config{
		BaseURL:       api.URL,
		Retries:       1,
		RetryInterval: time.Millisecond,
	})
	q := queue.New(store, queue.Config{})
	conn := &fakeConn{online: true}

	return &fixture{
		api:   api,
		store: store,
		queue: q,
		conn:  conn,
		subjects: New[*schema.Subject](Config{
			Collection: schema.CollectionSubjects,
			Path:       "/api/study/subjects",
			WritePath:  "/api/study/user-subjects",
		}, store, client, q, conn),
		themes: New[*schema.Theme](Config{
			Collection: schema.CollectionThemes,
			Path:       "/api/study/themes",
		}, store, client, q, conn),
	}
}

func (f *fixture) countRequests(prefix string) int {
	n := 0
	for _, r := range f.api.Requests() {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func TestGet_ReadPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.Seed("themes", &schema.Theme{ID: 1, Title: "remote title", Updated: 10})

	// Not cached: fetched remotely and persisted.
	theme, err := f.themes.Get(ctx, 1, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "remote title", theme.Title)
	assert.Equal(t, 1, f.countRequests("GET /api/study/themes/1"))

	_, ok, err := f.store.Get(ctx, schema.CollectionThemes, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// Local-only never calls the API.
	_, err = f.themes.Get(ctx, 1, GetOptions{LocalOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, f.countRequests("GET /api/study/themes/1"))

	// Once the collection is cached, local copies are trusted.
	require.NoError(t, f.store.SetValue(ctx, CachedKey(schema.CollectionThemes), true))
	_, err = f.themes.Get(ctx, 1, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.countRequests("GET /api/study/themes/1"))

	// Missing locally with LocalOnly.
	_, err = f.themes.Get(ctx, 2, GetOptions{LocalOnly: true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_OfflineServesLocalCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Put(ctx, schema.CollectionThemes, &schema.Theme{ID: 4, Title: "local"}))

	f.api.SetOffline(true)
	theme, err := f.themes.Get(ctx, 4, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "local", theme.Title)
	assert.False(t, f.conn.Online())

	// Nothing local and offline: the network error surfaces.
	_, err = f.themes.Get(ctx, 5, GetOptions{})
	assert.True(t, remote.IsOffline(err))
}

func TestGet_RemoteNotFoundDropsLocalCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Put(ctx, schema.CollectionThemes, &schema.Theme{ID: 4, Title: "stale"}))

	_, err := f.themes.Get(ctx, 4, GetOptions{})
	require.ErrorIs(t, err, ErrNotFound)

	_, ok, err := f.store.Get(ctx, schema.CollectionThemes, 4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncCollection_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := int64(1); i <= 20; i++ {
		f.api.Seed("subjects", &schema.Subject{ID: i, Title: "s", ThemeID: 1, Updated: 100 + i})
	}

	require.NoError(t, f.subjects.SyncCollection(ctx, nil, nil))
	first, err := db.All[*schema.Subject](ctx, f.store, schema.CollectionSubjects)
	require.NoError(t, err)

	// Re-apply everything from scratch.
	require.NoError(t, f.store.DeleteValue(ctx, MarkerKey(schema.CollectionSubjects)))
	require.NoError(t, f.subjects.SyncCollection(ctx, nil, nil))
	second, err := db.All[*schema.Subject](ctx, f.store, schema.CollectionSubjects)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, second, 20)
	assert.True(t, f.subjects.Cached(ctx))

	marker, err := f.store.Int64Value(ctx, MarkerKey(schema.CollectionSubjects))
	require.NoError(t, err)
	assert.Equal(t, int64(120), marker)
}

// An interrupted sync resumes from the last checkpoint rather than from zero.
func TestSyncCollection_ResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const total = 2500
	for i := int64(1); i <= total; i++ {
		f.api.Seed("subjects", &schema.Subject{ID: i, Title: "s", ThemeID: 1, Updated: i})
	}

	applied := 0
	err := f.subjects.SyncCollection(ctx,
		func(float64) { applied++ },
		func() bool { return applied < 1500 },
	)
	require.ErrorIs(t, err, ErrSuperseded)
	assert.False(t, f.subjects.Cached(ctx))

	marker, err := f.store.Int64Value(ctx, MarkerKey(schema.CollectionSubjects))
	require.NoError(t, err)
	assert.Equal(t, int64(CheckpointEvery), marker)

	f.api.ResetRequests()
	var fractions []float64
	require.NoError(t, f.subjects.SyncCollection(ctx, func(p float64) { fractions = append(fractions, p) }, nil))
	assert.Equal(t, []string{"GET /api/study/subjects?updated>1000"}, f.api.Requests())
	// 1500 records plus the final report.
	assert.Len(t, fractions, total-CheckpointEvery+1)
	assert.Equal(t, 1.0, fractions[len(fractions)-1])

	n, err := f.store.Count(ctx, schema.CollectionSubjects)
	require.NoError(t, err)
	assert.Equal(t, total, n)
	assert.True(t, f.subjects.Cached(ctx))
}

func TestSyncCollection_SupersededAfterLastRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.Seed("themes", &schema.Theme{ID: 1, Title: "a", Updated: 10}, &schema.Theme{ID: 2, Title: "b", Updated: 20})

	// Current for both records, superseded right after.
	checks := 0
	err := f.themes.SyncCollection(ctx, nil, func() bool {
		checks++
		return checks <= 2
	})
	require.ErrorIs(t, err, ErrSuperseded)

	marker, err := f.store.Int64Value(ctx, MarkerKey(schema.CollectionThemes))
	require.NoError(t, err)
	assert.Zero(t, marker)
	assert.False(t, f.themes.Cached(ctx))
}

func TestCheckpoint_HoldsBackSharedTimestamps(t *testing.T) {
	records := []*schema.Theme{{ID: 1, Updated: 5}, {ID: 2, Updated: 7}, {ID: 3, Updated: 7}, {ID: 4, Updated: 9}}
	assert.Equal(t, int64(5), checkpoint(records, 0))
	assert.Equal(t, int64(6), checkpoint(records, 1))
	assert.Equal(t, int64(7), checkpoint(records, 2))
	assert.Equal(t, int64(9), checkpoint(records, 3))
}

func TestCreate_Online(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.subjects.Create(ctx, &schema.Subject{Title: "neko", ThemeID: 2})
	require.NoError(t, err)
	assert.Positive(t, created.ID)
	assert.Equal(t, 1, f.countRequests("POST /api/study/user-subjects"))

	local, ok, err := db.GetAs[*schema.Subject](ctx, f.store, schema.CollectionSubjects, created.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "neko", local.Title)

	n, _ := f.queue.Len(ctx)
	assert.Zero(t, n)
}

func TestCreate_ValidationBeforeIO(t *testing.T) {
	f := newFixture(t)
	_, err := f.subjects.Create(context.Background(), &schema.Subject{Title: ""})

	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Empty(t, f.api.Requests())
}

// Offline create keeps a negative id locally and queues one create task;
// draining after reconnecting swaps the temporary id for the server's.
func TestCreate_OfflineThenDrain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.SetOffline(true)

	note, err := f.subjects.Create(ctx, &schema.Subject{Title: "note", ThemeID: 3})
	require.NoError(t, err)
	require.Negative(t, note.ID)
	tempID := note.ID

	_, ok, err := f.store.Get(ctx, schema.CollectionSubjects, tempID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.subjects.Update(ctx, tempID, map[string]any{"title": "note v2"})
	require.NoError(t, err)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, schema.ActionCreate, pending[0].Action)
	assert.Equal(t, tempID, pending[0].TargetID)

	f.api.SetOffline(false)
	res, err := f.queue.Drain(ctx, queue.DrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Replayed)

	_, ok, err = f.store.Get(ctx, schema.CollectionSubjects, tempID)
	require.NoError(t, err)
	assert.False(t, ok, "temporary record must be replaced")

	keys, err := f.store.GetAllKeys(ctx, schema.CollectionSubjects)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	serverID := keys[0]
	assert.Positive(t, serverID)

	doc, ok := f.api.Record("subjects", serverID)
	require.True(t, ok)
	assert.Equal(t, "note v2", doc["title"])

	local, _, err := db.GetAs[*schema.Subject](ctx, f.store, schema.CollectionSubjects, serverID)
	require.NoError(t, err)
	assert.Equal(t, "note v2", local.Title)
}

func TestUpdate_TemporaryIDAfterReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.SetOffline(true)

	note, err := f.subjects.Create(ctx, &schema.Subject{Title: "note", ThemeID: 3})
	require.NoError(t, err)
	tempID := note.ID
	_, err = f.subjects.Create(ctx, &schema.Subject{Title: "other", ThemeID: 3})
	require.NoError(t, err)

	// Replay the first create only; the second stays queued.
	f.api.SetOffline(false)
	res, err := f.queue.Drain(ctx, queue.DrainOptions{
		IsCurrent: func() bool {
			n, _ := f.queue.Len(ctx)
			return n == 2
		},
	})
	require.ErrorIs(t, err, ErrSuperseded)
	require.Equal(t, 1, res.Replayed)

	remap, err := f.queue.Remap(ctx)
	require.NoError(t, err)
	serverID, ok := remap[tempID]
	require.True(t, ok)

	updated, err := f.subjects.Update(ctx, tempID, map[string]any{"title": "note v2"})
	require.NoError(t, err)
	assert.Equal(t, serverID, updated.ID)
	assert.Equal(t, "note v2", updated.Title)
	assert.Equal(t, int64(3), updated.ThemeID)

	_, ok, err = f.store.Get(ctx, schema.CollectionSubjects, tempID)
	require.NoError(t, err)
	assert.False(t, ok, "no record may reappear under the temporary id")
}

func TestUpdate_MissingTemporaryRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.SetOffline(true)

	_, err := f.subjects.Update(ctx, -42, map[string]any{"title": "ghost"})
	require.ErrorIs(t, err, ErrNotFound)

	_, ok, err := f.store.Get(ctx, schema.CollectionSubjects, -42)
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdate_ClientErrorIsNotQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.Seed("themes", &schema.Theme{ID: 8, Title: "x"})
	f.api.Fail("PUT", "/api/study/themes/8", 422)

	_, err := f.themes.Update(ctx, 8, map[string]any{"title": "y"})
	require.Error(t, err)
	assert.True(t, remote.IsClient(err))

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdate_OfflineMergesLocally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stage := 1
	require.NoError(t, f.store.Put(ctx, schema.CollectionSubjects, &schema.Subject{ID: 5, Title: "inu", ThemeID: 1, Stage: &stage}))
	f.api.SetOffline(true)

	updated, err := f.subjects.Update(ctx, 5, map[string]any{"stage": 2})
	require.NoError(t, err)
	assert.Equal(t, "inu", updated.Title)
	assert.Equal(t, 2, updated.CurrentStage())

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"stage":2}`, string(pending[0].Payload))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.Seed("themes", &schema.Theme{ID: 1, Title: "a"})
	require.NoError(t, f.store.Put(ctx, schema.CollectionThemes, &schema.Theme{ID: 1, Title: "a"}))
	require.NoError(t, f.store.Put(ctx, schema.CollectionThemes, &schema.Theme{ID: 2, Title: "gone"}))

	require.NoError(t, f.themes.Delete(ctx, 1))
	assert.Equal(t, 0, f.api.Len("themes"))

	// Already deleted on the server.
	require.NoError(t, f.themes.Delete(ctx, 2))
	n, _ := f.store.Count(ctx, schema.CollectionThemes)
	assert.Zero(t, n)

	// Offline deletes are queued.
	require.NoError(t, f.store.Put(ctx, schema.CollectionThemes, &schema.Theme{ID: 3, Title: "c"}))
	f.api.SetOffline(true)
	require.NoError(t, f.themes.Delete(ctx, 3))
	pending, _ := f.queue.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, schema.ActionDelete, pending[0].Action)
}

func TestGetAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.Seed("themes", &schema.Theme{ID: 1, Title: "a"}, &schema.Theme{ID: 2, Title: "b"})

	themes, err := f.themes.GetAll(ctx, GetOptions{})
	require.NoError(t, err)
	assert.Len(t, themes, 2)

	f.api.SetOffline(true)
	themes, err = f.themes.GetAll(ctx, GetOptions{})
	require.NoError(t, err)
	assert.Len(t, themes, 2)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.api.Seed("themes", &schema.Theme{ID: 1, Title: "a", Updated: 3})
	for _, id := range []int64{1, 2, -1} {
		require.NoError(t, f.store.Put(ctx, schema.CollectionThemes, &schema.Theme{ID: id, Title: "t"}))
	}

	removed, err := f.themes.Prune(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	keys, err := f.store.GetAllKeys(ctx, schema.CollectionThemes)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 1}, keys)
}

func TestParseIDStamps(t *testing.T) {
	got, err := ParseIDStamps([]byte("1,100\n\n 2 , 200 \n"))
	require.NoError(t, err)
	assert.Equal(t, []IDStamp{{1, 100}, {2, 200}}, got)

	_, err = ParseIDStamps([]byte("1;100"))
	assert.Error(t, err)
	_, err = ParseIDStamps([]byte("x,100"))
	assert.Error(t, err)
}
