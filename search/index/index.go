// Package index is the stateful search index of one user and one kind of
// item. It owns the in-memory engine, tracks when every item was last
// indexed, and keeps an encrypted copy in the local store through a debounced
// save.
//
// An Index is safe for concurrent use, but it is meant to be driven from a
// single worker (see package worker) so calls are applied in order.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/search/bleve_engine"
	"github.com/noelzubin/notes_vault/search/persistence"
	"github.com/noelzubin/notes_vault/search/ranking"
	"github.com/noelzubin/notes_vault/search/tokenizer"
	"github.com/noelzubin/notes_vault/secure"
	"github.com/noelzubin/notes_vault/storage"
	"github.com/samber/lo"
)

var ErrInvalidConfig = errors.New("index: invalid config")

// saveTimeout bounds a background save.
const saveTimeout = 30 * time.Second

// StorageKey is where the index of kind for userID is persisted.
func StorageKey(kind search.Kind, userID string) string {
	return fmt.Sprintf("skiff:%sSearchIndex:%s", kind, userID)
}

// Params are the collaborators of an index.
type Params struct {
	UserID string
	Keys   secure.UserKeys
	Store  storage.Store
	// Persisted is the stored blob when the caller already read it. When nil
	// and PersistedRead is unset the index reads it from Store itself.
	Persisted []byte
	// PersistedRead marks Persisted as the result of a read, so nil means no
	// blob rather than not read yet.
	PersistedRead bool
	Options       Options
	Logger        *slog.Logger
}

// Index is the search index of one user and kind.
type Index struct {
	cfg    Config
	opts   Options
	schema persistence.Schema
	keys   secure.UserKeys
	store  storage.Store
	key    string
	log    *slog.Logger
	saver  *Debouncer
	saveMu sync.Mutex

	mu            sync.Mutex
	engine        *bleve_engine.Engine
	idToUpdatedAt map[string]int64
	symmetricKey  string
	metadata      search.Metadata
}

// LoadOrCreate restores the index of p.UserID from its persisted blob, or
// starts an empty one. A blob that cannot be decrypted or decoded is logged,
// deleted and replaced by an empty index; it is never reported as an error.
func LoadOrCreate(ctx context.Context, cfg Config, p Params) (*Index, error) {
	if cfg.Kind == "" || len(cfg.Fields) == 0 || cfg.ExtractField == nil {
		return nil, fmt.Errorf("%w: kind, fields and field extractor are required", ErrInvalidConfig)
	}
	if p.UserID == "" || p.Store == nil {
		return nil, fmt.Errorf("%w: user id and store are required", ErrInvalidConfig)
	}

	cfg = cfg.withDefaults()
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	x := &Index{
		cfg:    cfg,
		opts:   p.Options.withDefaults(),
		schema: persistence.SchemaFor(cfg.Kind),
		keys:   p.Keys,
		store:  p.Store,
		key:    StorageKey(cfg.Kind, p.UserID),
		log:    logger.With("component", "search-index", "kind", string(cfg.Kind)),
	}
	x.saver = NewDebouncer(x.opts.SaveWait, x.opts.SaveMaxWait, x.saveInBackground)

	persisted := p.Persisted
	if persisted == nil && !p.PersistedRead {
		data, err := p.Store.Get(ctx, x.key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			x.log.Warn("read persisted index", "error", err)
		default:
			persisted = data
		}
	}

	if persisted != nil {
		err := x.restore(persisted)
		if err == nil {
			x.log.Info("restored search index", "items", x.engine.Len())
			return x, nil
		}
		x.log.Error("discarding unreadable search index", "error", err)
		if err := p.Store.Delete(ctx, x.key); err != nil {
			x.log.Error("delete unreadable search index", "error", err)
		}
	}

	if err := x.reset(); err != nil {
		return nil, err
	}
	x.log.Info("created search index")
	return x, nil
}

func (x *Index) restore(data []byte) error {
	payload, err := persistence.UnmarshalPayload(data)
	if err != nil {
		return err
	}
	symmetricKey, snapshot, err := persistence.Decrypt(x.schema, payload, x.keys)
	if err != nil {
		return err
	}
	engine, err := bleve_engine.Load(x.cfg.Fields, x.cfg.StoreFields, snapshot.SerializedIndex)
	if err != nil {
		return err
	}

	metadata := snapshot.IndexMetadata
	if metadata == nil {
		metadata = x.cfg.DefaultMetadata()
	}
	idToUpdatedAt := snapshot.IDToUpdatedAt
	if idToUpdatedAt == nil {
		idToUpdatedAt = make(map[string]int64)
	}
	// every indexed id needs a timestamp; 0 makes it stale for reconciliation
	for _, id := range engine.IDs() {
		if _, ok := idToUpdatedAt[id]; !ok {
			idToUpdatedAt[id] = 0
		}
	}
	for id := range idToUpdatedAt {
		if !engine.Has(id) {
			delete(idToUpdatedAt, id)
		}
	}

	x.engine = engine
	x.symmetricKey = symmetricKey
	x.metadata = metadata
	x.idToUpdatedAt = idToUpdatedAt
	return nil
}

func (x *Index) reset() error {
	engine, err := bleve_engine.New(x.cfg.Fields, x.cfg.StoreFields)
	if err != nil {
		return err
	}
	symmetricKey, err := secure.GenerateSymmetricKey()
	if err != nil {
		engine.Close()
		return err
	}
	x.engine = engine
	x.symmetricKey = symmetricKey
	x.metadata = x.cfg.DefaultMetadata()
	x.idToUpdatedAt = make(map[string]int64)
	return nil
}

// Kind is the kind of items this index holds.
func (x *Index) Kind() search.Kind {
	return x.cfg.Kind
}

func (x *Index) analyze(item search.Item) (map[string][]string, map[string]string) {
	terms := make(map[string][]string, len(x.cfg.Fields))
	for _, field := range x.cfg.Fields {
		text := x.cfg.ExtractField(item, field)
		if text == "" {
			continue
		}
		terms[field] = tokenizer.Analyze(text, x.cfg.Tokenize, x.cfg.ProcessTerm)
	}
	stored := make(map[string]string, len(x.cfg.StoreFields))
	for _, field := range x.cfg.StoreFields {
		stored[field] = x.cfg.ExtractField(item, field)
	}
	return terms, stored
}

// IsIndexed reports whether id is in the index.
func (x *Index) IsIndexed(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.engine.Has(id)
}

// UpdatedAt returns the updatedAt id was last indexed with.
func (x *Index) UpdatedAt(id string) (int64, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ts, ok := x.idToUpdatedAt[id]
	return ts, ok
}

// Len is the number of indexed items.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.engine.Len()
}

// Add indexes item, replacing an earlier version with the same id.
func (x *Index) Add(item search.Item) error {
	id := item.ItemID()
	terms, stored := x.analyze(item)

	x.mu.Lock()
	defer x.mu.Unlock()

	err := x.engine.Add(id, terms, stored)
	if errors.Is(err, bleve_engine.ErrDuplicateID) {
		if err := x.engine.Discard(id); err != nil {
			return fmt.Errorf("index: replace %s: %w", id, err)
		}
		err = x.engine.Add(id, terms, stored)
	}
	if err != nil {
		return fmt.Errorf("index: add %s: %w", id, err)
	}

	x.idToUpdatedAt[id] = item.ItemUpdatedAt()
	x.saver.Trigger()
	return nil
}

// Remove drops id from the index. Failures are logged, not returned.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.engine.Discard(id); errors.Is(err, bleve_engine.ErrUnknownID) {
		x.log.Debug("remove unknown id from search index", "id", id)
	} else if err != nil {
		x.log.Warn("remove from search index", "id", id, "error", err)
	}
	delete(x.idToUpdatedAt, id)
	x.saver.Trigger()
}

// SetMetadata shallow merges partial into the metadata.
func (x *Index) SetMetadata(partial search.Metadata) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.metadata == nil {
		x.metadata = search.Metadata{}
	}
	for k, v := range partial {
		x.metadata[k] = v
	}
	x.saver.Trigger()
}

// Metadata returns a copy of the metadata.
func (x *Index) Metadata() search.Metadata {
	x.mu.Lock()
	defer x.mu.Unlock()
	return lo.Assign(x.metadata)
}

// Prune drops every indexed id missing from existingIDs and returns them.
func (x *Index) Prune(existingIDs []string) []string {
	existing := lo.SliceToMap(existingIDs, func(id string) (string, struct{}) { return id, struct{}{} })

	x.mu.Lock()
	defer x.mu.Unlock()

	pruned := lo.Filter(x.engine.IDs(), func(id string, _ int) bool {
		_, ok := existing[id]
		return !ok
	})
	sort.Strings(pruned)

	for _, id := range pruned {
		if err := x.engine.Discard(id); err != nil {
			x.log.Warn("prune from search index", "id", id, "error", err)
		}
		delete(x.idToUpdatedAt, id)
	}
	if len(pruned) > 0 {
		x.log.Info("pruned search index", "items", len(pruned))
		x.saver.Trigger()
	}
	return pruned
}

// ListStaleOrMissing returns the ids of items that are not indexed or were
// updated after they were last indexed.
func (x *Index) ListStaleOrMissing(items []search.ItemStamp) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	stale := make([]string, 0)
	for _, item := range items {
		indexedAt, ok := x.idToUpdatedAt[item.ID]
		if !ok || !x.engine.Has(item.ID) || item.UpdatedAt > indexedAt {
			stale = append(stale, item.ID)
		}
	}
	return stale
}

// GetRecentItems returns the most recently updated items, newest first.
func (x *Index) GetRecentItems() []search.ItemStamp {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.recentItems()
}

func (x *Index) recentItems() []search.ItemStamp {
	stamps := make([]search.ItemStamp, 0, len(x.idToUpdatedAt))
	for id, ts := range x.idToUpdatedAt {
		stamps = append(stamps, search.ItemStamp{ID: id, UpdatedAt: ts})
	}
	sort.Slice(stamps, func(i, j int) bool {
		if stamps[i].UpdatedAt != stamps[j].UpdatedAt {
			return stamps[i].UpdatedAt > stamps[j].UpdatedAt
		}
		return stamps[i].ID < stamps[j].ID
	})
	if len(stamps) > x.opts.RecentLimit {
		stamps = stamps[:x.opts.RecentLimit]
	}
	return stamps
}

// Search looks query up. An empty query returns the recent items.
func (x *Index) Search(ctx context.Context, query string, opts search.SearchOptions) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" {
		x.mu.Lock()
		defer x.mu.Unlock()
		return lo.Map(x.recentItems(), func(s search.ItemStamp, _ int) search.Result {
			return search.Result{ID: s.ID, UpdatedAt: s.UpdatedAt, Stored: x.engine.Stored(s.ID)}
		}), nil
	}

	q := x.engineQuery(tokenizer.Analyze(query, x.cfg.TokenizeQuery, x.cfg.ProcessTerm), opts)
	keep := dateRangePredicate(opts.DateRange, x.opts.Now())

	x.mu.Lock()
	defer x.mu.Unlock()

	var results []search.Result
	if opts.PreferFullMatches {
		q.And = true
		full, err := x.run(ctx, q, keep)
		if err != nil {
			return nil, err
		}
		results = full
		q.And = false
	}
	if len(results) == 0 {
		widened, err := x.run(ctx, q, keep)
		if err != nil {
			return nil, err
		}
		results = widened
	}

	if opts.Sort {
		return ranking.ChronologicalSort(results), nil
	}
	return ranking.SmartSort(results), nil
}

// run must be called with mu held.
func (x *Index) run(ctx context.Context, q bleve_engine.Query, keep func(int64) bool) ([]search.Result, error) {
	hits, err := x.engine.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	results := make([]search.Result, 0, len(hits))
	for _, h := range hits {
		updatedAt := x.idToUpdatedAt[h.ID]
		if keep != nil && !keep(updatedAt) {
			continue
		}
		results = append(results, search.Result{
			ID:        h.ID,
			Score:     h.Score,
			UpdatedAt: updatedAt,
			Terms:     h.Terms,
			Match:     h.Match,
			Stored:    h.Stored,
		})
	}
	return results, nil
}

// engineQuery applies the per-kind defaults and the caller's overrides.
func (x *Index) engineQuery(terms []string, opts search.SearchOptions) bleve_engine.Query {
	q := bleve_engine.Query{
		Terms:  terms,
		Fuzzy:  defaultFuzzy,
		Prefix: defaultPrefix,
		Boost:  x.cfg.Boosts,
	}
	if c := opts.Custom; c != nil {
		if c.Fuzzy != nil {
			q.Fuzzy = c.Fuzzy
		}
		if c.Prefix != nil {
			q.Prefix = c.Prefix
		}
		if c.Boost != nil {
			q.Boost = c.Boost
		}
	}
	if opts.AutoSuggest {
		q.Prefix = func(string) bool { return true }
	}
	return q
}

// dateRangePredicate keeps items updated no earlier than DaysAgo days
// before now. It is built here rather than passed in so that callers on the
// other side of a worker only send plain data.
func dateRangePredicate(f *search.DateRangeFilter, now time.Time) func(updatedAt int64) bool {
	if f == nil {
		return nil
	}
	cutoff := now.AddDate(0, 0, -f.DaysAgo).UnixMilli()
	return func(updatedAt int64) bool {
		return search.NormalizeTimestamp(updatedAt) >= cutoff
	}
}

// Save vacuums, encrypts and writes the index now.
func (x *Index) Save(ctx context.Context) error {
	x.saveMu.Lock()
	defer x.saveMu.Unlock()

	x.mu.Lock()
	if _, err := x.engine.Vacuum(true); err != nil {
		x.log.Warn("vacuum search index", "error", err)
	}
	serialized, err := x.engine.Serialize()
	snapshot := persistence.Snapshot{
		SerializedIndex: serialized,
		IndexMetadata:   lo.Assign(x.metadata),
		IDToUpdatedAt:   lo.Assign(x.idToUpdatedAt),
	}
	symmetricKey := x.symmetricKey
	x.mu.Unlock()
	if err != nil {
		return fmt.Errorf("index: serialize: %w", err)
	}

	payload, err := persistence.Encrypt(x.schema, snapshot, symmetricKey, x.keys)
	if err != nil {
		return fmt.Errorf("index: encrypt: %w", err)
	}
	data, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("index: encode payload: %w", err)
	}
	if err := x.store.Set(ctx, x.key, data); err != nil {
		return err
	}
	x.log.Debug("saved search index", "bytes", len(data))
	return nil
}

func (x *Index) saveInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := x.Save(ctx); err != nil {
		x.log.Error("save search index", "error", err)
	}
}

// Flush writes a pending save now.
func (x *Index) Flush(ctx context.Context) error {
	if !x.saver.Cancel() {
		return nil
	}
	return x.Save(ctx)
}

// SavePending reports whether a debounced save is scheduled.
func (x *Index) SavePending() bool {
	return x.saver.Pending()
}

// Close stops the save timers without flushing and releases the engine.
func (x *Index) Close() error {
	x.saver.Stop()
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.engine.Close()
}
