// Package notes keeps the search indexes of a notes directory in sync with
// the files on disk and serves searches over them.
package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/search/index"
	"github.com/noelzubin/notes_vault/search/ranking"
	"github.com/noelzubin/notes_vault/search/tokenizer"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var ErrNoIndex = errors.New("notes: no index for kind")

// readConcurrency bounds the files read at once during a sync.
const readConcurrency = 8

// Index is the part of a search index a vault drives. *worker.Remote
// implements it.
type Index interface {
	Add(ctx context.Context, item search.Item) error
	Prune(ctx context.Context, existingIDs []string) ([]string, error)
	ListStaleOrMissing(ctx context.Context, items []search.ItemStamp) ([]string, error)
	Search(ctx context.Context, query string, opts search.SearchOptions) ([]search.Result, error)
	Flush(ctx context.Context) error
}

// Options configure a Vault.
type Options struct {
	RootPath       string
	Extensions     []string // extensions of notes
	MailExtensions []string // extensions of mail files
	Timeout        time.Duration
	Logger         *slog.Logger
}

// SyncStats summarise one sync of a kind.
type SyncStats struct {
	Indexed int
	Failed  int
	Pruned  int
}

// Vault is the search.NotesIndexer of a notes directory.
type Vault struct {
	opts    Options
	indexes map[search.Kind]Index
	log     *slog.Logger

	mu   sync.Mutex
	kind search.Kind
}

// NewVault returns a vault searching documents first. indexes holds the index
// of every kind the vault syncs.
func NewVault(opts Options, indexes map[search.Kind]Index) *Vault {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		opts:    opts,
		indexes: indexes,
		log:     logger.With("component", "notes"),
		kind:    search.KindDocument,
	}
}

func (v *Vault) SetKind(kind search.Kind) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.kind = kind
}

func (v *Vault) Kind() search.Kind {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.kind
}

func (v *Vault) extensions(kind search.Kind) []string {
	if kind == search.KindMail {
		return v.opts.MailExtensions
	}
	return v.opts.Extensions
}

func (v *Vault) read(kind search.Kind, fi FileInfo) (search.Item, error) {
	if kind == search.KindMail {
		return readMail(fi)
	}
	return readDocument(fi)
}

// IndexNotes syncs every index with the files on disk.
func (v *Vault) IndexNotes() error {
	ctx, cancel := context.WithTimeout(context.Background(), v.opts.Timeout)
	defer cancel()

	var errs []error
	for _, kind := range []search.Kind{search.KindDocument, search.KindMail} {
		if _, ok := v.indexes[kind]; !ok {
			continue
		}
		stats, err := v.Sync(ctx, kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		v.log.Info("synced notes", "kind", string(kind), "indexed", stats.Indexed, "failed", stats.Failed, "pruned", stats.Pruned)
	}
	return errors.Join(errs...)
}

// Sync indexes new and modified files of kind and drops deleted ones. Files
// that cannot be read are skipped and retried on the next sync.
func (v *Vault) Sync(ctx context.Context, kind search.Kind) (SyncStats, error) {
	var stats SyncStats
	idx, ok := v.indexes[kind]
	if !ok {
		return stats, fmt.Errorf("%w %q", ErrNoIndex, kind)
	}

	files := listFiles(v.opts.RootPath, v.extensions(kind))
	stale, err := idx.ListStaleOrMissing(ctx, lo.Map(files, func(fi FileInfo, _ int) search.ItemStamp { return fi.stamp() }))
	if err != nil {
		return stats, err
	}
	staleSet := lo.SliceToMap(stale, func(id string) (string, struct{}) { return id, struct{}{} })
	toIndex := lo.Filter(files, func(fi FileInfo, _ int) bool {
		_, ok := staleSet[fi.Path]
		return ok
	})

	items := make([]search.Item, len(toIndex))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, fi := range toIndex {
		i, fi := i, fi
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item, err := v.read(kind, fi)
			if err != nil {
				v.log.Warn("read note", "path", fi.Path, "error", err)
				return nil
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	for _, item := range items {
		if item == nil {
			stats.Failed++
			continue
		}
		if err := idx.Add(ctx, item); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			v.log.Warn("index note", "path", item.ItemID(), "error", err)
			stats.Failed++
			continue
		}
		stats.Indexed++
	}

	pruned, err := idx.Prune(ctx, lo.Map(files, func(fi FileInfo, _ int) string { return fi.Path }))
	if err != nil {
		return stats, err
	}
	stats.Pruned = len(pruned)
	return stats, nil
}

// Search searches the active index. Hits are the matching files with an
// excerpt starting at the first match.
func (v *Vault) Search(query string) search.SearchResult {
	ctx, cancel := context.WithTimeout(context.Background(), v.opts.Timeout)
	defer cancel()
	return v.SearchContext(ctx, v.Kind(), query)
}

func (v *Vault) SearchContext(ctx context.Context, kind search.Kind, query string) search.SearchResult {
	idx, ok := v.indexes[kind]
	if !ok {
		return search.SearchResult{Err: fmt.Errorf("%w %q", ErrNoIndex, kind)}
	}
	results, err := idx.Search(ctx, query, search.SearchOptions{PreferFullMatches: true})
	if err != nil {
		return search.SearchResult{Err: err}
	}

	opts := excerptOptions(kind)
	return search.SearchResult{
		Hits: lo.Map(results, func(r search.Result, _ int) search.DocumentMatch {
			return search.DocumentMatch{Path: r.ID, Content: ranking.Excerpt(v.body(kind, r.ID), r.Terms, opts)}
		}),
	}
}

// excerptOptions normalize words the way the index of kind analyses them, so
// terms the index keeps whole, like mail addresses, are found in the text.
func excerptOptions(kind search.Kind) ranking.ExcerptOptions {
	opts := ranking.DefaultExcerptOptions()
	if cfg, ok := index.ConfigFor(kind); ok {
		opts.Normalize = func(word string) []string {
			return tokenizer.Analyze(word, cfg.Tokenize, cfg.ProcessTerm)
		}
	}
	return opts
}

// body is the searchable text of a file, or empty when it is gone.
func (v *Vault) body(kind search.Kind, path string) string {
	fi, err := getFileInfoForFile(path)
	if err != nil {
		return ""
	}
	item, err := v.read(kind, fi)
	if err != nil {
		return ""
	}
	switch it := item.(type) {
	case search.Mail:
		return it.Subject + "\n" + it.Content
	case search.Document:
		return it.Content
	}
	return ""
}

// Flush writes pending index saves.
func (v *Vault) Flush(ctx context.Context) error {
	var g errgroup.Group
	for _, idx := range v.indexes {
		idx := idx
		g.Go(func() error { return idx.Flush(ctx) })
	}
	return g.Wait()
}
