package index

import (
	"context"
	"testing"
	"time"

	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/secure"
	"github.com/noelzubin/notes_vault/storage"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slow enough that debounced saves never fire on their own during a test
var quietOptions = Options{SaveWait: time.Hour, SaveMaxWait: time.Hour}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.OpenPebble("", storage.PebbleOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newKeys(t *testing.T) secure.UserKeys {
	t.Helper()
	keys, err := secure.GenerateUserKeys()
	require.NoError(t, err)
	return keys
}

func open(t *testing.T, cfg Config, store storage.Store, keys secure.UserKeys, opts Options) *Index {
	t.Helper()
	x, err := LoadOrCreate(context.Background(), cfg, Params{
		UserID:  "user-1",
		Keys:    keys,
		Store:   store,
		Options: opts,
	})
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	return x
}

func newDocIndex(t *testing.T) *Index {
	return open(t, DocumentConfig(), newStore(t), newKeys(t), quietOptions)
}

func resultIDs(results []search.Result) []string {
	return lo.Map(results, func(r search.Result, _ int) string { return r.ID })
}

func TestAddIsIdempotentUpsert(t *testing.T) {
	x := newDocIndex(t)
	ctx := context.Background()

	require.NoError(t, x.Add(search.Document{ID: "d1", UpdatedAt: 1, Title: "groceries", Content: "milk"}))
	require.NoError(t, x.Add(search.Document{ID: "d1", UpdatedAt: 2, Title: "groceries", Content: "bread"}))

	assert.Equal(t, 1, x.Len())
	ts, ok := x.UpdatedAt("d1")
	require.True(t, ok)
	assert.Equal(t, int64(2), ts)

	results, err := x.Search(ctx, "bread", search.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, resultIDs(results))

	results, err = x.Search(ctx, "milk", search.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results, "the replaced version is gone")
	assert.True(t, x.SavePending())
}

func TestEmailAddressRoundTrip(t *testing.T) {
	x := open(t, MailConfig(), newStore(t), newKeys(t), quietOptions)
	ctx := context.Background()

	require.NoError(t, x.Add(search.Mail{
		ID:        "m1",
		UpdatedAt: 10,
		Subject:   "quarterly numbers",
		Content:   "ping alice@skiff.com about it.",
		To:        []search.Address{{Address: "alice@skiff.com", Name: "Alice Liddell"}},
	}))
	require.NoError(t, x.Add(search.Mail{
		ID:        "m2",
		UpdatedAt: 11,
		Subject:   "unrelated",
		To:        []search.Address{{Address: "carol@example.org", Name: "Carol"}},
	}))

	for query, want := range map[string][]string{
		"alice@skiff.com": {"m1"},
		"alice":           {"m1"},
		"liddell":         {"m1"},
		"bob@skiff.com":   {},
	} {
		results, err := x.Search(ctx, query, search.SearchOptions{})
		require.NoError(t, err, query)
		assert.Equal(t, want, resultIDs(results), query)
	}
}

func TestListStaleOrMissing(t *testing.T) {
	x := newDocIndex(t)
	require.NoError(t, x.Add(search.Document{ID: "d1", UpdatedAt: 100, Title: "x"}))

	assert.Empty(t, x.ListStaleOrMissing([]search.ItemStamp{{ID: "d1", UpdatedAt: 100}}))
	assert.Empty(t, x.ListStaleOrMissing([]search.ItemStamp{{ID: "d1", UpdatedAt: 99}}))
	assert.Equal(t, []string{"d1"}, x.ListStaleOrMissing([]search.ItemStamp{{ID: "d1", UpdatedAt: 101}}))
	assert.Equal(t, []string{"unknown"}, x.ListStaleOrMissing([]search.ItemStamp{{ID: "unknown", UpdatedAt: 1}}))
}

func TestPruneIsExact(t *testing.T) {
	x := newDocIndex(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, x.Add(search.Document{ID: id, UpdatedAt: 1, Title: "note " + id}))
	}

	pruned := x.Prune([]string{"b", "d", "not-indexed"})
	assert.Equal(t, []string{"a", "c"}, pruned)
	assert.False(t, x.IsIndexed("a"))
	assert.True(t, x.IsIndexed("b"))
	assert.Equal(t, 2, x.Len())
	_, ok := x.UpdatedAt("a")
	assert.False(t, ok)

	assert.Empty(t, x.Prune([]string{"b", "d"}))
}

func TestRemoveIsBestEffort(t *testing.T) {
	x := newDocIndex(t)
	require.NoError(t, x.Add(search.Document{ID: "a", UpdatedAt: 1, Title: "x"}))

	x.Remove("a")
	x.Remove("a")
	x.Remove("never")
	assert.False(t, x.IsIndexed("a"))
	assert.Empty(t, x.GetRecentItems())
}

func TestPreferFullMatchesWidensOnlyWhenNeeded(t *testing.T) {
	x := newDocIndex(t)
	ctx := context.Background()
	require.NoError(t, x.Add(search.Document{ID: "apple", UpdatedAt: 1, Content: "apple"}))
	require.NoError(t, x.Add(search.Document{ID: "banana", UpdatedAt: 2, Content: "banana"}))

	results, err := x.Search(ctx, "apple banana", search.SearchOptions{PreferFullMatches: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"apple", "banana"}, resultIDs(results))

	or, err := x.Search(ctx, "apple banana", search.SearchOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, resultIDs(or), resultIDs(results))

	require.NoError(t, x.Add(search.Document{ID: "both", UpdatedAt: 3, Content: "apple and banana"}))
	results, err = x.Search(ctx, "apple banana", search.SearchOptions{PreferFullMatches: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"both"}, resultIDs(results))
}

func TestEmptyQueryReturnsRecentItems(t *testing.T) {
	x := newDocIndex(t)
	for i := int64(1); i <= 12; i++ {
		require.NoError(t, x.Add(search.Document{ID: string(rune('a' + i)), UpdatedAt: i, Title: "t"}))
	}

	recent := x.GetRecentItems()
	require.Len(t, recent, 10)
	assert.Equal(t, int64(12), recent[0].UpdatedAt)
	assert.Equal(t, int64(3), recent[9].UpdatedAt)

	results, err := x.Search(context.Background(), "  ", search.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, lo.Map(recent, func(s search.ItemStamp, _ int) string { return s.ID }), resultIDs(results))
	assert.Equal(t, map[string]string{"title": "t"}, results[0].Stored)
}

func TestDateRangeAndChronologicalSort(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	opts := quietOptions
	opts.Now = func() time.Time { return now }
	x := open(t, DocumentConfig(), newStore(t), newKeys(t), opts)
	ctx := context.Background()

	require.NoError(t, x.Add(search.Document{ID: "yesterday", UpdatedAt: now.Add(-24 * time.Hour).UnixMilli(), Title: "report"}))
	require.NoError(t, x.Add(search.Document{ID: "seconds", UpdatedAt: now.Add(-2 * time.Hour).Unix(), Title: "report draft"}))
	require.NoError(t, x.Add(search.Document{ID: "last-month", UpdatedAt: now.AddDate(0, -1, 0).UnixMilli(), Title: "report"}))

	results, err := x.Search(ctx, "report", search.SearchOptions{DateRange: &search.DateRangeFilter{DaysAgo: 7}, Sort: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"seconds", "yesterday"}, resultIDs(results))
}

func TestCustomOptionsOverrideDefaults(t *testing.T) {
	x := newDocIndex(t)
	ctx := context.Background()
	require.NoError(t, x.Add(search.Document{ID: "titled", UpdatedAt: 1, Title: "invoice"}))
	require.NoError(t, x.Add(search.Document{ID: "body", UpdatedAt: 2, Content: "invoice"}))

	results, err := x.Search(ctx, "invoice", search.SearchOptions{
		Custom: &search.QueryOptions{Boost: map[string]float64{"title": 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"body"}, resultIDs(results))

	results, err = x.Search(ctx, "inv", search.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results, "short terms do not prefix match by default")

	results, err = x.Search(ctx, "inv", search.SearchOptions{AutoSuggest: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"titled", "body"}, resultIDs(results))
}

func TestSaveAndRestore(t *testing.T) {
	store := newStore(t)
	keys := newKeys(t)
	ctx := context.Background()

	x := open(t, DocumentConfig(), store, keys, quietOptions)
	require.NoError(t, x.Add(search.Document{ID: "d1", UpdatedAt: 5, Title: "trip", Content: "lisbon itinerary"}))
	require.NoError(t, x.Add(search.Document{ID: "d2", UpdatedAt: 6, Title: "gone"}))
	x.Remove("d2")
	x.SetMetadata(search.Metadata{"newest": float64(6)})
	require.NoError(t, x.Flush(ctx))
	assert.False(t, x.SavePending())
	require.NoError(t, x.Flush(ctx), "nothing pending is a no-op")

	data, err := store.Get(ctx, StorageKey(search.KindDocument, "user-1"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "lisbon")

	restored := open(t, DocumentConfig(), store, keys, quietOptions)
	assert.Equal(t, 1, restored.Len())
	assert.Equal(t, search.Metadata{"newest": float64(6)}, restored.Metadata())
	ts, ok := restored.UpdatedAt("d1")
	require.True(t, ok)
	assert.Equal(t, int64(5), ts)

	results, err := restored.Search(ctx, "itinerary", search.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, resultIDs(results))
	assert.Equal(t, "trip", results[0].Stored["title"])
}

func TestDebouncedSaveWrites(t *testing.T) {
	store := newStore(t)
	x := open(t, DocumentConfig(), store, newKeys(t), Options{SaveWait: 20 * time.Millisecond, SaveMaxWait: 200 * time.Millisecond})
	require.NoError(t, x.Add(search.Document{ID: "d1", UpdatedAt: 1, Title: "x"}))

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), StorageKey(search.KindDocument, "user-1"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, x.SavePending())
}

func TestCorruptIndexIsDiscarded(t *testing.T) {
	ctx := context.Background()
	key := StorageKey(search.KindDocument, "user-1")

	for name, blob := range map[string]string{
		"garbage":         "not json at all",
		"bad ciphertext":  `{"encryptedKey":"AAAA","encryptedSearchIndex":"AAAA"}`,
		"incomplete json": `{"encryptedKey":"AAAA"}`,
	} {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			require.NoError(t, store.Set(ctx, key, []byte(blob)))

			x := open(t, DocumentConfig(), store, newKeys(t), quietOptions)
			assert.Equal(t, 0, x.Len())
			require.NoError(t, x.Add(search.Document{ID: "d1", UpdatedAt: 1, Title: "usable"}))

			_, err := store.Get(ctx, key)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestWrongKeysStartFresh(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	x := open(t, DocumentConfig(), store, newKeys(t), quietOptions)
	require.NoError(t, x.Add(search.Document{ID: "d1", UpdatedAt: 1, Title: "x"}))
	require.NoError(t, x.Save(ctx))

	other := open(t, DocumentConfig(), store, newKeys(t), quietOptions)
	assert.Equal(t, 0, other.Len())
}

func TestPersistedBlobFromCaller(t *testing.T) {
	store := newStore(t)
	keys := newKeys(t)
	ctx := context.Background()

	x := open(t, DocumentConfig(), store, keys, quietOptions)
	require.NoError(t, x.Add(search.Document{ID: "d1", UpdatedAt: 1, Title: "handed over"}))
	require.NoError(t, x.Save(ctx))
	blob, err := store.Get(ctx, StorageKey(search.KindDocument, "user-1"))
	require.NoError(t, err)

	empty := newStore(t)
	y, err := LoadOrCreate(ctx, DocumentConfig(), Params{UserID: "user-1", Keys: keys, Store: empty, Persisted: blob, Options: quietOptions})
	require.NoError(t, err)
	defer y.Close()
	assert.True(t, y.IsIndexed("d1"))
}

func TestLoadOrCreateValidates(t *testing.T) {
	_, err := LoadOrCreate(context.Background(), Config{}, Params{UserID: "u", Store: newStore(t)})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadOrCreate(context.Background(), DocumentConfig(), Params{Store: newStore(t)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
