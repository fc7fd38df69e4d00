package notes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/search/index"
	"github.com/noelzubin/notes_vault/search/worker"
	"github.com/noelzubin/notes_vault/secure"
	"github.com/noelzubin/notes_vault/storage"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMail = "From: Alice Liddell <Alice@Example.com>\r\n" +
	"To: bob@example.com, \"Carol\" <carol@example.com>\r\n" +
	"Subject: =?utf-8?q?Quarterly_budget?=\r\n" +
	"X-Labels: finance, inbox\r\n" +
	"\r\n" +
	"Numbers for the quarterly review are attached.\r\n"

func writeFile(t *testing.T, path, body string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func newVault(t *testing.T, root string) *Vault {
	t.Helper()
	store, err := storage.OpenPebble("", storage.PebbleOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	keys, err := secure.GenerateUserKeys()
	require.NoError(t, err)

	host := worker.NewHost(store, index.Options{SaveWait: time.Hour, SaveMaxWait: time.Hour}, nil)
	t.Cleanup(func() { host.Close() })

	indexes := map[search.Kind]Index{}
	for _, kind := range []search.Kind{search.KindDocument, search.KindMail} {
		r, terminate, err := host.CreateIndex(context.Background(), kind, "user-1", keys)
		require.NoError(t, err)
		t.Cleanup(terminate)
		indexes[kind] = r
	}
	return NewVault(Options{
		RootPath:       root,
		Extensions:     []string{".md"},
		MailExtensions: []string{".eml"},
	}, indexes)
}

func hitPaths(res search.SearchResult) []string {
	return lo.Map(res.Hits, func(h search.DocumentMatch, _ int) string { return h.Path })
}

func TestSyncIndexesChangesOnly(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	groceries := filepath.Join(root, "groceries.md")
	trip := filepath.Join(root, "travel", "trip.md")
	writeFile(t, groceries, "# Groceries\nmilk and bread", base)
	writeFile(t, trip, "packing list for the mountains", base)
	writeFile(t, filepath.Join(root, "ignored.txt"), "milk", base)
	writeFile(t, filepath.Join(root, ".git", "hidden.md"), "milk", base)

	v := newVault(t, root)
	ctx := context.Background()

	stats, err := v.Sync(ctx, search.KindDocument)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Indexed: 2}, stats)

	stats, err = v.Sync(ctx, search.KindDocument)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{}, stats, "nothing changed")

	writeFile(t, groceries, "# Groceries\ncheese", base.Add(time.Hour))
	require.NoError(t, os.Remove(trip))

	stats, err = v.Sync(ctx, search.KindDocument)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Indexed: 1, Pruned: 1}, stats)

	res := v.Search("cheese")
	require.NoError(t, res.Err)
	assert.Equal(t, []string{groceries}, hitPaths(res))

	res = v.Search("mountains")
	require.NoError(t, res.Err)
	assert.Empty(t, res.Hits)
}

func TestSearchPrefersFullMatches(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	both := filepath.Join(root, "both.md")
	writeFile(t, both, "apple and banana", now)
	writeFile(t, filepath.Join(root, "apple.md"), "apple", now)
	writeFile(t, filepath.Join(root, "banana.md"), "banana", now)

	v := newVault(t, root)
	require.NoError(t, v.IndexNotes())

	res := v.Search("apple banana")
	require.NoError(t, res.Err)
	assert.Equal(t, []string{both}, hitPaths(res))

	res = v.Search("")
	require.NoError(t, res.Err)
	assert.Len(t, res.Hits, 3, "an empty query lists recent notes")
}

func TestSearchExcerpt(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "long.md")
	writeFile(t, path, "one two three four five the budget is final", time.Now())

	v := newVault(t, root)
	require.NoError(t, v.IndexNotes())

	res := v.Search("budget")
	require.NoError(t, res.Err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "... five the budget is final", res.Hits[0].Content)
}

func TestMailKind(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "mail", "1.eml")
	writeFile(t, path, sampleMail, time.Now())

	v := newVault(t, root)
	require.NoError(t, v.IndexNotes())

	assert.Empty(t, v.Search("quarterly").Hits, "documents are searched by default")

	v.SetKind(search.KindMail)
	assert.Equal(t, search.KindMail, v.Kind())
	for _, q := range []string{"quarterly", "alice@example.com", "carol", "finance"} {
		res := v.Search(q)
		require.NoError(t, res.Err, q)
		assert.Equal(t, []string{path}, hitPaths(res), q)
	}
	assert.True(t, strings.HasPrefix(v.Search("").Hits[0].Content, "Quarterly budget"))
}

func TestMailAddressExcerpt(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "2.eml")
	writeFile(t, path, "From: dave@example.com\r\n"+
		"Subject: Hi\r\n"+
		"\r\n"+
		"hello\none two three four five six seven eight please forward the file to alice@skiff.com today\r\n", time.Now())

	v := newVault(t, root)
	require.NoError(t, v.IndexNotes())
	v.SetKind(search.KindMail)

	res := v.Search("alice@skiff.com")
	require.NoError(t, res.Err)
	require.Len(t, res.Hits, 1)
	assert.True(t, strings.HasPrefix(res.Hits[0].Content, "... file to alice@skiff.com today"), res.Hits[0].Content)
}

func TestParseMail(t *testing.T) {
	m, err := parseMail(FileInfo{Path: "x.eml", ModTime: 7}, strings.NewReader(sampleMail))
	require.NoError(t, err)

	assert.Equal(t, "x.eml", m.ID)
	assert.Equal(t, int64(7), m.UpdatedAt)
	assert.Equal(t, "Quarterly budget", m.Subject)
	assert.Equal(t, search.Address{Address: "alice@example.com", Name: "Alice Liddell"}, m.From)
	assert.Equal(t, []search.Address{
		{Address: "bob@example.com"},
		{Address: "carol@example.com", Name: "Carol"},
	}, m.To)
	assert.Empty(t, m.Cc)
	assert.Equal(t, []string{"finance", "inbox"}, m.Labels)
	assert.Contains(t, m.Content, "quarterly review")

	_, err = parseMail(FileInfo{Path: "bad.eml"}, strings.NewReader("not a message"))
	assert.Error(t, err)
}

func TestNoteTitle(t *testing.T) {
	assert.Equal(t, "Groceries", noteTitle("/n/list.md", "\n# Groceries\nmilk"))
	assert.Equal(t, "list", noteTitle("/n/list.md", "milk\n# Later heading"))
	assert.Equal(t, "list", noteTitle("/n/list.md", ""))
}

func TestUnknownKind(t *testing.T) {
	v := NewVault(Options{RootPath: t.TempDir()}, map[search.Kind]Index{})
	_, err := v.Sync(context.Background(), search.KindMail)
	assert.ErrorIs(t, err, ErrNoIndex)
	assert.ErrorIs(t, v.Search("x").Err, ErrNoIndex)
	assert.NoError(t, v.IndexNotes())
}
