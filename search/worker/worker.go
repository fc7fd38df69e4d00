// Package worker runs every search index on its own goroutine. Callers get a
// Remote whose calls are queued to that goroutine and applied in order, so a
// slow search or save never races with updates to the same index.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/search/index"
	"github.com/noelzubin/notes_vault/secure"
	"github.com/noelzubin/notes_vault/storage"
	"golang.org/x/sync/errgroup"
)

var (
	ErrTerminated  = errors.New("worker: terminated")
	ErrHostClosed  = errors.New("worker: host closed")
	ErrUnknownKind = errors.New("worker: unknown index kind")
)

// requestQueue is how many calls may wait for a busy worker before callers
// block.
const requestQueue = 64

// LegacyKeys are the keys older releases stored the index of userID under.
func LegacyKeys(userID string) []string {
	keys := []string{
		"skiff:searchIndex:" + userID,
		"skiff:searchIndexKey:" + userID,
	}
	for _, kind := range []search.Kind{search.KindDocument, search.KindMail} {
		keys = append(keys, fmt.Sprintf("skiff:%sSearchIndexMetadata:%s", kind, userID))
	}
	return keys
}

type workerKey struct {
	kind   search.Kind
	userID string
}

// Host owns the store and the workers of every open index.
type Host struct {
	store storage.Store
	opts  index.Options
	base  *slog.Logger // untagged, handed to the indexes
	log   *slog.Logger

	mu       sync.Mutex
	workers  map[workerKey]*worker
	migrated map[string]struct{}
	closed   bool
}

// NewHost returns a host persisting indexes in store. logger may be nil.
func NewHost(store storage.Store, opts index.Options, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		store:    store,
		opts:     opts,
		base:     logger,
		log:      logger.With("component", "search-worker"),
		workers:  make(map[workerKey]*worker),
		migrated: make(map[string]struct{}),
	}
}

// CreateIndex opens the index of kind for userID and returns a handle to it
// with the function that releases the handle. Opening the same index twice
// shares one worker; it stops when the last handle is released. Releasing
// does not flush pending saves.
func (h *Host) CreateIndex(ctx context.Context, kind search.Kind, userID string, keys secure.UserKeys) (*Remote, func(), error) {
	cfg, ok := index.ConfigFor(kind)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if userID == "" {
		return nil, nil, fmt.Errorf("%w: user id is required", index.ErrInvalidConfig)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, ErrHostClosed
	}
	k := workerKey{kind: kind, userID: userID}
	w, ok := h.workers[k]
	if ok {
		w.refs++
		h.mu.Unlock()
	} else {
		_, done := h.migrated[userID]
		h.migrated[userID] = struct{}{}
		w = newWorker(k, h.log)
		h.workers[k] = w
		h.mu.Unlock()

		if !done {
			h.migrate(ctx, userID)
		}
		params := index.Params{
			UserID:        userID,
			Keys:          keys,
			Store:         h.store,
			Persisted:     h.read(ctx, index.StorageKey(kind, userID)),
			PersistedRead: true,
			Options:       h.opts,
			Logger:        h.base.With("worker", w.id),
		}
		go w.run(context.WithoutCancel(ctx), func(ctx context.Context) (*index.Index, error) {
			return index.LoadOrCreate(ctx, cfg, params)
		})
	}

	select {
	case <-w.ready:
	case <-ctx.Done():
		h.release(w)
		return nil, nil, ctx.Err()
	}
	if w.err != nil {
		h.release(w)
		return nil, nil, w.err
	}

	r := &Remote{w: w}
	var once sync.Once
	terminate := func() {
		once.Do(func() {
			r.released.Store(true)
			h.release(w)
		})
	}
	return r, terminate, nil
}

// read returns the persisted blob under key, or nil when there is none or it
// cannot be read. The index does not retry a failed read.
func (h *Host) read(ctx context.Context, key string) []byte {
	data, err := h.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		h.log.Warn("read persisted index", "key", key, "error", err)
		return nil
	}
	return data
}

// migrate drops the blobs older releases left behind.
func (h *Host) migrate(ctx context.Context, userID string) {
	for _, key := range LegacyKeys(userID) {
		if err := h.store.Delete(ctx, key); err != nil {
			h.log.Warn("delete legacy search index key", "key", key, "error", err)
		}
	}
}

func (h *Host) release(w *worker) {
	h.mu.Lock()
	w.refs--
	last := w.refs == 0
	if last && h.workers[w.key] == w {
		delete(h.workers, w.key)
	}
	h.mu.Unlock()

	if last {
		if err := w.stop(); err != nil {
			w.log.Warn("close search index", "error", err)
		}
	}
}

// Close stops every worker without flushing. Handles still held fail with
// ErrTerminated afterwards.
func (h *Host) Close() error {
	h.mu.Lock()
	h.closed = true
	workers := make([]*worker, 0, len(h.workers))
	for k, w := range h.workers {
		workers = append(workers, w)
		delete(h.workers, k)
	}
	h.mu.Unlock()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(w.stop)
	}
	return g.Wait()
}

// Workers is the number of running workers.
func (h *Host) Workers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.workers)
}

type response struct {
	value any
	err   error
}

type request struct {
	ctx    context.Context
	method string
	call   func(x *index.Index) (any, error)
	reply  chan response
}

type worker struct {
	id   string
	key  workerKey
	log  *slog.Logger
	refs int // guarded by Host.mu

	requests chan request
	ready    chan struct{}
	err      error // construction error, set before ready closes
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	closeErr error
}

func newWorker(k workerKey, logger *slog.Logger) *worker {
	id := uuid.NewString()
	return &worker{
		id:       id,
		key:      k,
		log:      logger.With("worker", id, "kind", string(k.kind)),
		refs:     1,
		requests: make(chan request, requestQueue),
		ready:    make(chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *worker) run(ctx context.Context, build func(context.Context) (*index.Index, error)) {
	defer close(w.done)

	x, err := build(ctx)
	w.err = err
	close(w.ready)
	if err != nil {
		w.log.Error("open search index", "error", err)
		return
	}
	w.log.Debug("worker started")

	for {
		select {
		case <-w.quit:
			w.closeErr = x.Close()
			w.log.Debug("worker stopped")
			return
		case req := <-w.requests:
			if err := req.ctx.Err(); err != nil {
				req.reply <- response{err: err}
				continue
			}
			value, err := req.call(x)
			if err != nil {
				w.log.Debug("worker call failed", "method", req.method, "error", err)
			}
			req.reply <- response{value: value, err: err}
		}
	}
}

// stop ends the worker and waits for it.
func (w *worker) stop() error {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
	return w.closeErr
}
