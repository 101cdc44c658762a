package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/recurse-review/internal/core"
	"github.com/you/recurse-review/internal/httpapi"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "journeys.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// clock returns a now func that advances one second per call.
func clock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func TestUpsertReturnsSameIDAndUpdatesInPlace(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id1, err := st.UpsertPersonMessageData(ctx, "Ada Lovelace", 3, "https://cdn/ada.png")
	require.NoError(t, err)
	id2, err := st.UpsertPersonMessageData(ctx, "Ada Lovelace", 7, "")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	n, err := st.CountPersons(ctx, httpapi.Filters{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	p, err := st.GetPersonByName(ctx, "Ada Lovelace")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.EqualValues(t, 7, p.MessageCount)
	assert.Equal(t, "https://cdn/ada.png", p.AvatarURL, "empty avatar keeps the stored one")
	assert.Equal(t, "", p.Journey)
}

func TestUpdatePersonJourneyUnknownID(t *testing.T) {
	st := openTestStore(t)
	err := st.UpdatePersonJourney(context.Background(), "does-not-exist", `{"cards":[]}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.True(t, core.IsKind(err, core.KindRepository))
}

func TestUpdatePersonJourney(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	id, err := st.UpsertPersonMessageData(ctx, "Grace Hopper", 2, "")
	require.NoError(t, err)

	require.NoError(t, st.UpdatePersonJourney(ctx, id, `{"cards":["<div>a</div>"]}`))
	p, err := st.GetPersonByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, `{"cards":["<div>a</div>"]}`, p.Journey)
	assert.False(t, p.JourneyUpdatedAt.IsZero())
}

func TestUpdateJourneyByName(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertPersonMessageData(ctx, "Grace Hopper", 2, "")
	require.NoError(t, err)

	p, err := st.UpdateJourneyByName(ctx, "Grace Hopper", `{"cards":[]}`)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", p.Name)
	assert.Equal(t, `{"cards":[]}`, p.Journey)

	_, err = st.UpdateJourneyByName(ctx, "Nobody", `{"cards":[]}`)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestReadsReturnNilWhenMissing(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	p, err := st.GetPersonByName(ctx, "Nobody")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = st.GetPersonBySlug(ctx, "no-body")
	require.NoError(t, err)
	assert.Nil(t, p)

	all, err := st.GetAllPersons(ctx)
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestListOrdersByCreatedAtDesc(t *testing.T) {
	st := openTestStore(t)
	st.now = clock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for _, name := range []string{"Ada Lovelace", "Grace Hopper", "Alan Turing"} {
		_, err := st.UpsertPersonMessageData(ctx, name, 1, "")
		require.NoError(t, err)
	}

	all, err := st.GetAllPersons(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"Alan Turing", "Grace Hopper", "Ada Lovelace"}, names(all))

	limited, err := st.ListPersons(ctx, httpapi.Filters{Names: []string{"a"}, Order: httpapi.OrderAsc, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada Lovelace", "Grace Hopper"}, names(limited))

	yes := true
	withJourney, err := st.ListPersons(ctx, httpapi.Filters{HasJourney: &yes})
	require.NoError(t, err)
	assert.Empty(t, withJourney)
}

func TestGetPersonBySlug(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertPersonMessageData(ctx, "Jean-Luc  Picard", 1, "")
	require.NoError(t, err)

	p, err := st.GetPersonBySlug(ctx, "jean-luc-picard")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Jean-Luc  Picard", p.Name)
}

func TestScanCoercesLooseValues(t *testing.T) {
	st := openTestStore(t)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	st.now = func() time.Time { return fixed }

	_, err := st.db.Exec(`INSERT INTO recursers (id, name, profile_picture_url, zulip_messages, zulip_messages_updated_at, journey, journey_updated_at, created_at)
VALUES ('x1', 'Loose Row', NULL, '42', 'not a time', '{"cards":[]}', NULL, '2023-09-01 10:00:00');`)
	require.NoError(t, err)

	p, err := st.GetPersonByName(context.Background(), "Loose Row")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "", p.AvatarURL)
	assert.EqualValues(t, 42, p.MessageCount)
	assert.Equal(t, fixed, p.MessagesUpdatedAt)
	assert.Equal(t, fixed, p.JourneyUpdatedAt)
	assert.Equal(t, time.Date(2023, 9, 1, 10, 0, 0, 0, time.UTC), p.CreatedAt)
}

func TestMigrateLegacyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE recursers (id TEXT PRIMARY KEY, name TEXT, journey TEXT, created_at TEXT);
INSERT INTO recursers (id, name, journey, created_at) VALUES ('a', 'Ada Lovelace', NULL, NULL);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	st, err := OpenSQLite(path, Options{})
	require.NoError(t, err)
	defer st.Close()

	cols, err := sqliteTableInfo(context.Background(), st.db, "recursers")
	require.NoError(t, err)
	for _, c := range requiredColumns {
		assert.Contains(t, cols, c.name)
	}

	hasIndex, err := sqliteHasIndex(context.Background(), st.db, "recursers", nameIndex)
	require.NoError(t, err)
	assert.True(t, hasIndex)

	var nulls int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM recursers WHERE journey IS NULL OR created_at IS NULL OR created_at = '';`).Scan(&nulls))
	assert.Zero(t, nulls)

	id, err := st.UpsertPersonMessageData(context.Background(), "Ada Lovelace", 5, "")
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	var slug string
	require.NoError(t, st.db.QueryRow(`SELECT slug FROM recursers WHERE id = 'a';`).Scan(&slug))
	assert.Equal(t, "ada-lovelace", slug)

	hasSlugIndex, err := sqliteHasIndex(context.Background(), st.db, "recursers", slugIndex)
	require.NoError(t, err)
	assert.True(t, hasSlugIndex)
}

func TestMigrateSkipsIndexWithDuplicateNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dupes.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE recursers (id TEXT PRIMARY KEY, name TEXT NOT NULL);
INSERT INTO recursers (id, name) VALUES ('a', 'Ada'), ('b', 'Ada');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	st, err := OpenSQLite(path, Options{})
	require.NoError(t, err)
	defer st.Close()

	hasIndex, err := sqliteHasIndex(context.Background(), st.db, "recursers", nameIndex)
	require.NoError(t, err)
	assert.False(t, hasIndex)
}

type recordingBroadcaster struct {
	events []core.JourneyEvent
}

func (r *recordingBroadcaster) Broadcast(ev core.JourneyEvent) { r.events = append(r.events, ev) }

func TestWithBroadcastPublishesJourneyWrites(t *testing.T) {
	st := openTestStore(t)
	rec := &recordingBroadcaster{}
	w := WithAPI(st, rec)
	ctx := context.Background()

	id, err := w.UpsertPersonMessageData(ctx, "Ada Lovelace", 4, "")
	require.NoError(t, err)
	assert.Empty(t, rec.events, "message data writes are not broadcast")

	require.NoError(t, w.UpdatePersonJourney(ctx, id, `{"cards":[]}`))
	require.Len(t, rec.events, 1)
	assert.Equal(t, id, rec.events[0].PersonID)
	assert.Equal(t, "ada-lovelace", rec.events[0].Slug)
	assert.EqualValues(t, 4, rec.events[0].MessageCount)

	require.Error(t, w.UpdatePersonJourney(ctx, "missing", `{"cards":[]}`))
	assert.Len(t, rec.events, 1)

	_, err = w.UpdateJourneyByName(ctx, "Ada Lovelace", `{"cards":["<div/>"]}`)
	require.NoError(t, err)
	assert.Len(t, rec.events, 2)
}

func names(people []core.Person) []string {
	out := make([]string, 0, len(people))
	for _, p := range people {
		out = append(out, p.Name)
	}
	return out
}

func TestGetPersonBySlugMatchesRowsWithoutSlug(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertPersonMessageData(ctx, "Grace Hopper", 1, "")
	require.NoError(t, err)
	_, err = st.db.Exec(`INSERT INTO recursers (id, name, journey, created_at) VALUES ('raw', 'Ada  Lovelace', '', '2024-05-01T00:00:00Z');`)
	require.NoError(t, err)

	p, err := st.GetPersonBySlug(ctx, "ada-lovelace")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "raw", p.ID)

	p, err = st.GetPersonBySlug(ctx, "Grace-Hopper")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Grace Hopper", p.Name)

	p, err = st.GetPersonBySlug(ctx, "grace")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestConcurrentWritesForDifferentPeople(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	const people = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < people; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("Person %d", i)
			id, err := st.UpsertPersonMessageData(ctx, name, i, "")
			if err == nil {
				err = st.UpdatePersonJourney(ctx, id, `{"cards":["<div>x</div>"]}`)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Empty(t, errs)

	withJourney := true
	n, err := st.CountPersons(ctx, httpapi.Filters{HasJourney: &withJourney})
	require.NoError(t, err)
	assert.EqualValues(t, people, n)
}

func TestConcurrentWritesAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := OpenSQLite(path, Options{})
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite(path, Options{})
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	errCh := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for _, st := range []*SQLiteStore{a, b} {
			wg.Add(1)
			go func(st *SQLiteStore, i int) {
				defer wg.Done()
				_, err := st.UpsertPersonMessageData(ctx, fmt.Sprintf("Handle %p %d", st, i), i, "")
				errCh <- err
			}(st, i)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}
