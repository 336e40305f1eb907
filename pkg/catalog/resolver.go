package catalog

import (
	"context"
	"sync"
)

// Resolver turns dataset references into resolved records. Concurrent
// resolutions of distinct references are independent; concurrent
// resolutions of the same reference share a single in-flight fetch, whose
// result later callers observe through the cache (at most one detail fetch
// per reference per run).
type Resolver struct {
	catalog *Catalog

	mu       sync.Mutex
	inflight map[string]*inflightResolve
}

type inflightResolve struct {
	done   chan struct{}
	detail *DatasetDetail
	err    error
}

// NewResolver creates a resolver over a catalog
func NewResolver(cat *Catalog) *Resolver {
	return &Resolver{
		catalog:  cat,
		inflight: make(map[string]*inflightResolve),
	}
}

// Resolve fetches (or reuses the cached) detail page for ref, parses it,
// and selects the resource matching the target format
func (r *Resolver) Resolve(ctx context.Context, ref DatasetRef, target Format, cacheFirst bool) (*DatasetRecord, error) {
	detail, err := r.detail(ctx, ref, cacheFirst)
	if err != nil {
		return nil, err
	}

	record := &DatasetRecord{
		Ref:       ref,
		Metadata:  detail.Metadata,
		Resources: detail.Resources,
		Selected:  SelectResource(detail.Resources, target),
	}
	if record.Metadata.Title == "" {
		record.Metadata.Title = ref.Title
	}
	return record, nil
}

// detail fetches the detail page with same-reference in-flight deduplication
func (r *Resolver) detail(ctx context.Context, ref DatasetRef, cacheFirst bool) (*DatasetDetail, error) {
	r.mu.Lock()
	if call, ok := r.inflight[ref.ID]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.detail, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &inflightResolve{done: make(chan struct{})}
	r.inflight[ref.ID] = call
	r.mu.Unlock()

	call.detail, call.err = r.catalog.DetailPage(ctx, ref, cacheFirst)
	close(call.done)

	// The cache now holds the result; drop the in-flight marker so a later
	// cache-bypassing resolve can fetch live again.
	r.mu.Lock()
	delete(r.inflight, ref.ID)
	r.mu.Unlock()

	return call.detail, call.err
}
