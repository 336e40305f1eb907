package catalog

import (
	"context"
	stderrors "errors"

	"github.com/av1m/datagovuk-scraper/pkg/cache"
	errs "github.com/av1m/datagovuk-scraper/pkg/errors"
	"github.com/av1m/datagovuk-scraper/pkg/logger"
)

// Catalog combines the client, parser and cache into the fetch-and-parse
// surface the pagination controller and resolver drive
type Catalog struct {
	client *Client
	store  *cache.Store
	logger logger.Logger
}

// NewCatalog creates a Catalog over a client and a cache store
func NewCatalog(client *Client, store *cache.Store, log logger.Logger) *Catalog {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Catalog{client: client, store: store, logger: log}
}

// Client returns the underlying HTTP client
func (c *Catalog) Client() *Client {
	return c.client
}

// SearchPage fetches and parses one search results page. With cacheFirst the
// cache is consulted before any network I/O; without it the page is fetched
// live but still written through for later reuse.
func (c *Catalog) SearchPage(ctx context.Context, query SearchQuery, page int, cacheFirst bool) (*SearchPage, error) {
	raw, err := c.fetch(ctx, c.client.SearchPageURL(query, page), cacheFirst)
	if err != nil {
		return nil, err
	}
	return ParseSearchPage(raw)
}

// DetailPage fetches and parses one dataset detail page, keyed in the cache
// by the dataset's request URL
func (c *Catalog) DetailPage(ctx context.Context, ref DatasetRef, cacheFirst bool) (*DatasetDetail, error) {
	raw, err := c.fetch(ctx, c.client.DatasetURL(ref), cacheFirst)
	if err != nil {
		return nil, err
	}
	return ParseDetailPage(raw)
}

// fetch looks the key up in the cache before issuing network I/O. Cache hits
// carrying a failure marker replay the failure without a refetch.
func (c *Catalog) fetch(ctx context.Context, url string, cacheFirst bool) ([]byte, error) {
	if cacheFirst {
		if entry, ok := c.store.Get(url); ok {
			c.logger.DebugWithFields("cache hit", map[string]interface{}{"url": url})
			if entry.Err != nil {
				return nil, entry.Err
			}
			return entry.Payload, nil
		}
	}

	raw, err := c.client.FetchPage(ctx, url)
	if err != nil {
		// Permanent failures are cached so a later resolve of the same
		// reference replays them instead of refetching
		if !retryable(err) {
			c.store.PutError(url, err)
		}
		return nil, err
	}
	c.store.Put(url, raw)
	return raw, nil
}

// retryable reports whether err could succeed on a refetch. Context errors
// say nothing about the page itself and are never cached.
func retryable(err error) bool {
	var catalogErr *errs.Error
	if stderrors.As(err, &catalogErr) {
		return errs.IsRetryable(catalogErr.Type)
	}
	return true
}

// RefIterator is a lazy, finite, non-restartable sequence of dataset
// references. Each element costs at most one page fetch the first time it is
// demanded; pages advance by one from the starting page and the sequence
// ends when a page yields zero references or a fetch fails after retries.
// Duplicate references across pages are suppressed.
//
// Usage follows the bufio.Scanner shape:
//
//	it := cat.CollectRefs(query, 1, true)
//	for it.Next(ctx) {
//		ref := it.Ref()
//	}
//	if err := it.Err(); err != nil { ... }
type RefIterator struct {
	catalog    *Catalog
	query      SearchQuery
	page       int
	cacheFirst bool

	buf     []DatasetRef
	seen    map[string]bool
	current DatasetRef
	total   int
	sawPage bool
	done    bool
	err     error
}

// CollectRefs starts a reference iterator at the given page
func (c *Catalog) CollectRefs(query SearchQuery, startPage int, cacheFirst bool) *RefIterator {
	return &RefIterator{
		catalog:    c,
		query:      query,
		page:       startPage,
		cacheFirst: cacheFirst,
		seen:       make(map[string]bool),
	}
}

// Next advances the iterator, fetching the next results page when the
// current one is exhausted. It returns false at end of results, on error,
// or on context cancellation.
func (it *RefIterator) Next(ctx context.Context) bool {
	for {
		if it.done {
			return false
		}

		for len(it.buf) > 0 {
			ref := it.buf[0]
			it.buf = it.buf[1:]
			if it.seen[ref.ID] {
				continue
			}
			it.seen[ref.ID] = true
			it.current = ref
			return true
		}

		// Cancellation is checked between page fetches
		if err := ctx.Err(); err != nil {
			it.err = err
			it.done = true
			return false
		}

		page, err := it.catalog.SearchPage(ctx, it.query, it.page, it.cacheFirst)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.sawPage = true
		it.total = page.TotalResults
		it.page++

		if len(page.Refs) == 0 {
			// End of results
			it.done = true
			return false
		}
		it.buf = page.Refs
	}
}

// Ref returns the reference produced by the last successful Next
func (it *RefIterator) Ref() DatasetRef {
	return it.current
}

// Total returns the catalog-reported total match count, valid once at least
// one page has been fetched
func (it *RefIterator) Total() int {
	return it.total
}

// Err returns the error that terminated the sequence early, if any.
// Exhausting the catalog is not an error.
func (it *RefIterator) Err() error {
	return it.err
}
