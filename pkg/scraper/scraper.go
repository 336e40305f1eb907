// Package scraper orchestrates the crawl-and-fetch pipeline: keyword
// search pagination, dataset resolution, concurrent resource downloads and
// metadata persistence, behind an explicit lifecycle state machine.
package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/av1m/datagovuk-scraper/internal/downloader"
	"github.com/av1m/datagovuk-scraper/pkg/cache"
	"github.com/av1m/datagovuk-scraper/pkg/catalog"
	"github.com/av1m/datagovuk-scraper/pkg/config"
	errs "github.com/av1m/datagovuk-scraper/pkg/errors"
	"github.com/av1m/datagovuk-scraper/pkg/logger"
	"github.com/av1m/datagovuk-scraper/pkg/metadata"
	"github.com/av1m/datagovuk-scraper/pkg/ratelimit"
	"github.com/av1m/datagovuk-scraper/pkg/storage"
	"github.com/av1m/datagovuk-scraper/pkg/ui"
)

// ratelimitWindow is the refill period for the shared request bucket
const ratelimitWindow = time.Minute

// State is the facade's lifecycle position. Operations require the facade
// to be at or past their prerequisite state and fail deterministically when
// invoked out of order.
type State int

const (
	StateCreated State = iota
	StateSearched
	StateDatasetsResolved
	StateDownloaded
	StateMetadataSaved
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSearched:
		return "searched"
	case StateDatasetsResolved:
		return "datasets_resolved"
	case StateDownloaded:
		return "downloaded"
	case StateMetadataSaved:
		return "metadata_saved"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Scraper is the orchestrating facade. It owns the shared network session
// and the run's cache for its whole lifetime; Close releases the session
// and must be called on all exit paths.
type Scraper struct {
	cfg      *config.Config
	query    catalog.SearchQuery
	client   *catalog.Client
	catalog  *catalog.Catalog
	resolver *catalog.Resolver
	store    *cache.Store
	logger   logger.Logger

	showProgress bool

	mu           sync.Mutex
	state        State
	closeOnce    sync.Once
	totalResults int
	records      []*catalog.DatasetRecord
	results      []downloader.DownloadResult
}

// New creates a scraper for one search query
func New(keyword, format string, cfg *config.Config) (*Scraper, error) {
	if keyword == "" {
		return nil, fmt.Errorf("search keyword must not be empty")
	}
	targetFormat, err := catalog.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	log := logger.GetLogger()
	limiter := ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, ratelimitWindow)

	client := catalog.NewClient(catalog.ClientOptions{
		BaseURL:        cfg.Catalog.BaseURL,
		UserAgent:      cfg.Catalog.UserAgent,
		RequestTimeout: cfg.Catalog.RequestTimeout,
		MaxRetries:     cfg.Catalog.MaxRetries,
		Limiter:        limiter,
		Logger:         log,
	})

	store := cache.New()
	cat := catalog.NewCatalog(client, store, log)

	return &Scraper{
		cfg:      cfg,
		query:    catalog.SearchQuery{Keyword: keyword, TargetFormat: targetFormat},
		client:   client,
		catalog:  cat,
		resolver: catalog.NewResolver(cat),
		store:    store,
		logger:   log,
		state:    StateCreated,
	}, nil
}

// SetProgress toggles the terminal progress display for batch phases
func (s *Scraper) SetProgress(enabled bool) {
	s.showProgress = enabled
}

// State returns the facade's current lifecycle state
func (s *Scraper) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TotalResults returns the catalog-reported match count, valid once Searched
func (s *Scraper) TotalResults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalResults
}

// require fails with an invalid_state error unless the facade is at or past
// the prerequisite state and not closed
func (s *Scraper) require(prerequisite State, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return errs.InvalidState(fmt.Sprintf("%s called on closed scraper", op))
	}
	if s.state < prerequisite {
		return errs.InvalidState(fmt.Sprintf("%s requires state %q or later, scraper is %q", op, prerequisite, s.state))
	}
	return nil
}

func (s *Scraper) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Search fetches the first results page live, records the catalog-reported
// match count, and primes the cache for the pagination that follows
func (s *Scraper) Search(ctx context.Context) error {
	if err := s.require(StateCreated, "search"); err != nil {
		return err
	}

	page, err := s.catalog.SearchPage(ctx, s.query, 1, false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.totalResults = page.TotalResults
	s.records = nil
	s.results = nil
	s.state = StateSearched
	s.mu.Unlock()

	s.logger.InfoWithFields("search completed", map[string]interface{}{
		"keyword":       s.query.Keyword,
		"format":        string(s.query.TargetFormat),
		"total_results": page.TotalResults,
	})
	return nil
}

// GetDatasets paginates through search results and resolves up to count
// dataset records, preserving discovery order. It returns fewer than count
// only when the catalog runs out of matches. Individual resolution failures
// are skipped; a pagination failure surfaces with the records resolved so
// far preserved.
func (s *Scraper) GetDatasets(ctx context.Context, count int) ([]*catalog.DatasetRecord, error) {
	if err := s.require(StateSearched, "get datasets"); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("record count must be positive, got %d", count)
	}

	var progress *ui.Progress
	if s.showProgress {
		progress = ui.NewProgress("resolving datasets", count)
	}

	it := s.catalog.CollectRefs(s.query, 1, true)
	records := make([]*catalog.DatasetRecord, 0, count)

	for len(records) < count {
		// Pull the next batch of references; resolution failures below
		// shrink the batch, so keep pulling until count or exhaustion.
		need := count - len(records)
		refs := make([]catalog.DatasetRef, 0, need)
		for len(refs) < need && it.Next(ctx) {
			refs = append(refs, it.Ref())
		}
		if len(refs) == 0 {
			break
		}

		records = append(records, s.resolveBatch(ctx, refs, progress)...)

		if err := it.Err(); err != nil {
			s.storeRecords(records)
			return records, err
		}
	}
	if err := it.Err(); err != nil {
		s.storeRecords(records)
		return records, err
	}
	progress.Finish()

	s.storeRecords(records)
	s.logger.InfoWithFields("datasets resolved", map[string]interface{}{
		"requested": count,
		"resolved":  len(records),
	})
	return records, nil
}

func (s *Scraper) storeRecords(records []*catalog.DatasetRecord) {
	s.mu.Lock()
	s.records = records
	s.results = nil
	s.state = StateDatasetsResolved
	s.mu.Unlock()
}

// resolveBatch resolves a batch of references concurrently, bounded by the
// configured worker limit, and returns the successes in discovery order
func (s *Scraper) resolveBatch(ctx context.Context, refs []catalog.DatasetRef, progress *ui.Progress) []*catalog.DatasetRecord {
	type slot struct {
		record *catalog.DatasetRecord
		err    error
	}
	slots := make([]slot, len(refs))

	sem := make(chan struct{}, s.cfg.Download.ConcurrentDownloads)
	var wg sync.WaitGroup
	for i := range refs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			record, err := s.resolver.Resolve(ctx, refs[i], s.query.TargetFormat, true)
			slots[i] = slot{record, err}
			progress.Increment()
		}(i)
	}
	wg.Wait()

	records := make([]*catalog.DatasetRecord, 0, len(refs))
	for i := range slots {
		if slots[i].err != nil {
			s.logger.WithError(slots[i].err).WarnWithFields("skipping dataset, resolution failed", map[string]interface{}{
				"ref": refs[i].ID,
			})
			continue
		}
		records = append(records, slots[i].record)
	}
	return records
}

// Download fetches the selected resource of every resolved record with
// bounded concurrency and returns one result per record in discovery order.
// Records without a matching resource are skipped without network I/O;
// individual failures never abort the batch.
func (s *Scraper) Download(ctx context.Context) ([]downloader.DownloadResult, error) {
	if err := s.require(StateDatasetsResolved, "download"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	records := s.records
	s.mu.Unlock()

	store, err := storage.NewManager(s.cfg.Output.BaseDirectory)
	if err != nil {
		return nil, err
	}

	pool := downloader.NewWorkerPool(
		s.cfg.Download.ConcurrentDownloads,
		s.cfg.Download.DownloadTimeout,
		s.client,
		store,
		s.logger,
	)

	var progress *ui.Progress
	if s.showProgress {
		progress = ui.NewProgress("downloading resources", len(records))
	}

	results := pool.DownloadAll(ctx, records)
	progress.Finish()

	succeeded, skipped, failed := 0, 0, 0
	for _, result := range results {
		switch result.Outcome {
		case downloader.OutcomeSuccess:
			succeeded++
		case downloader.OutcomeSkipped:
			skipped++
		case downloader.OutcomeFailed:
			failed++
		}
	}

	s.mu.Lock()
	s.results = results
	s.state = StateDownloaded
	s.mu.Unlock()

	s.logger.InfoWithFields("downloads completed", map[string]interface{}{
		"total":     len(results),
		"succeeded": succeeded,
		"skipped":   skipped,
		"failed":    failed,
		"directory": s.cfg.Output.BaseDirectory,
	})
	return results, nil
}

// SaveMetadata persists one metadata entry per resolved dataset, joined
// with its download outcome, as a single atomically-written JSON file. It
// may be called after Download, or directly after GetDatasets for a
// metadata-only run.
func (s *Scraper) SaveMetadata() (string, error) {
	if err := s.require(StateDatasetsResolved, "save metadata"); err != nil {
		return "", err
	}

	s.mu.Lock()
	records := s.records
	results := s.results
	s.mu.Unlock()

	path, err := metadata.Write(s.cfg.Output.BaseDirectory, records, results)
	if err != nil {
		return "", err
	}

	s.setState(StateMetadataSaved)
	s.logger.InfoWithFields("metadata saved", map[string]interface{}{
		"path":    path,
		"entries": len(records),
	})
	return path, nil
}

// Close releases the shared network session. Safe to call from any state
// and more than once; the release happens exactly once.
func (s *Scraper) Close() error {
	s.closeOnce.Do(func() {
		s.client.Close()
		s.setState(StateClosed)
		s.logger.Debug("scraper closed")
	})
	return nil
}
