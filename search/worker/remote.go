package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/noelzubin/notes_vault/search"
	"github.com/noelzubin/notes_vault/search/index"
)

// Remote is a handle on an index running in a worker. Every call waits for
// the worker's answer or for ctx.
type Remote struct {
	w        *worker
	released atomic.Bool
}

// Kind is the kind of items the remote index holds.
func (r *Remote) Kind() search.Kind {
	return r.w.key.kind
}

// WorkerID identifies the worker in logs.
func (r *Remote) WorkerID() string {
	return r.w.id
}

func call[T any](ctx context.Context, r *Remote, method string, fn func(x *index.Index) (T, error)) (T, error) {
	var zero T
	if r.released.Load() {
		return zero, ErrTerminated
	}

	req := request{
		ctx:    ctx,
		method: method,
		call:   func(x *index.Index) (any, error) { return fn(x) },
		reply:  make(chan response, 1),
	}
	select {
	case r.w.requests <- req:
	case <-r.w.done:
		return zero, ErrTerminated
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		if resp.err != nil {
			return zero, fmt.Errorf("worker: %s: %w", method, resp.err)
		}
		value, _ := resp.value.(T)
		return value, nil
	case <-r.w.done:
		return zero, ErrTerminated
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Add indexes item, replacing an earlier version.
func (r *Remote) Add(ctx context.Context, item search.Item) error {
	_, err := call(ctx, r, "add", func(x *index.Index) (struct{}, error) {
		return struct{}{}, x.Add(item)
	})
	return err
}

// Remove drops id. Unknown ids are not an error.
func (r *Remote) Remove(ctx context.Context, id string) error {
	_, err := call(ctx, r, "remove", func(x *index.Index) (struct{}, error) {
		x.Remove(id)
		return struct{}{}, nil
	})
	return err
}

func (r *Remote) IsIndexed(ctx context.Context, id string) (bool, error) {
	return call(ctx, r, "isIndexed", func(x *index.Index) (bool, error) {
		return x.IsIndexed(id), nil
	})
}

func (r *Remote) Len(ctx context.Context) (int, error) {
	return call(ctx, r, "len", func(x *index.Index) (int, error) {
		return x.Len(), nil
	})
}

func (r *Remote) SetMetadata(ctx context.Context, partial search.Metadata) error {
	_, err := call(ctx, r, "setMetadata", func(x *index.Index) (struct{}, error) {
		x.SetMetadata(partial)
		return struct{}{}, nil
	})
	return err
}

func (r *Remote) Metadata(ctx context.Context) (search.Metadata, error) {
	return call(ctx, r, "metadata", func(x *index.Index) (search.Metadata, error) {
		return x.Metadata(), nil
	})
}

// Prune drops every indexed id not in existingIDs and returns the dropped ids.
func (r *Remote) Prune(ctx context.Context, existingIDs []string) ([]string, error) {
	return call(ctx, r, "prune", func(x *index.Index) ([]string, error) {
		return x.Prune(existingIDs), nil
	})
}

func (r *Remote) ListStaleOrMissing(ctx context.Context, items []search.ItemStamp) ([]string, error) {
	return call(ctx, r, "listStaleOrMissing", func(x *index.Index) ([]string, error) {
		return x.ListStaleOrMissing(items), nil
	})
}

func (r *Remote) GetRecentItems(ctx context.Context) ([]search.ItemStamp, error) {
	return call(ctx, r, "getRecentItems", func(x *index.Index) ([]search.ItemStamp, error) {
		return x.GetRecentItems(), nil
	})
}

func (r *Remote) Search(ctx context.Context, query string, opts search.SearchOptions) ([]search.Result, error) {
	return call(ctx, r, "search", func(x *index.Index) ([]search.Result, error) {
		return x.Search(ctx, query, opts)
	})
}

// Flush writes a pending save now.
func (r *Remote) Flush(ctx context.Context) error {
	_, err := call(ctx, r, "flush", func(x *index.Index) (struct{}, error) {
		return struct{}{}, x.Flush(ctx)
	})
	return err
}
