package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/av1m/datagovuk-scraper/pkg/catalog"
)

// fakeFetcher serves canned bodies by URL and counts fetches; URLs in the
// fail set always error
type fakeFetcher struct {
	mu      sync.Mutex
	bodies  map[string]string
	fail    map[string]error
	fetches map[string]int
	delay   time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies:  make(map[string]string),
		fail:    make(map[string]error),
		fetches: make(map[string]int),
	}
}

func (f *fakeFetcher) FetchStream(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.fetches[url]++
	body, ok := f.bodies[url]
	failErr := f.fail[url]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if !ok {
		return nil, errors.New("no such resource")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeFetcher) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[url]
}

// fakeStorage keeps saved resources in memory
type fakeStorage struct {
	mu       sync.Mutex
	files    map[string]string
	saveErr  error
	presence map[string]bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		files:    make(map[string]string),
		presence: make(map[string]bool),
	}
}

func (s *fakeStorage) IsDownloaded(refID, filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[refID+"/"+filename]
}

func (s *fakeStorage) SaveResource(r io.Reader, refID, filename string) (string, int64, error) {
	if s.saveErr != nil {
		return "", 0, s.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	key := refID + "/" + filename
	s.mu.Lock()
	s.files[key] = string(data)
	s.presence[key] = true
	s.mu.Unlock()
	return "/out/" + key, int64(len(data)), nil
}

func record(id, format, url string) *catalog.DatasetRecord {
	rec := &catalog.DatasetRecord{
		Ref:      catalog.DatasetRef{ID: id, Title: "Dataset " + id, Path: "/dataset/" + id + "/slug"},
		Metadata: catalog.Metadata{Title: "Dataset " + id},
	}
	if url != "" {
		rec.Resources = []catalog.Resource{{Title: id + " file", Format: format, URL: url}}
		rec.Selected = &rec.Resources[0]
	}
	return rec
}

func newTestPool(workers int, fetcher *fakeFetcher, store *fakeStorage) *WorkerPool {
	return NewWorkerPool(workers, 5*time.Second, fetcher, store, nil)
}

func TestDownloadAll(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStorage()
	var records []*catalog.DatasetRecord
	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("http://example.com/file-%d.csv", i)
		fetcher.bodies[url] = fmt.Sprintf("payload-%d", i)
		records = append(records, record(fmt.Sprintf("ref-%d", i), "CSV", url))
	}

	results := newTestPool(3, fetcher, store).DownloadAll(context.Background(), records)

	require.Len(t, results, 5)
	for i, result := range results {
		// One result per record, slotted back into discovery order
		assert.Equal(t, i, result.Index)
		assert.Equal(t, fmt.Sprintf("ref-%d", i), result.Ref)
		assert.Equal(t, OutcomeSuccess, result.Outcome)
		assert.Equal(t, int64(len(fmt.Sprintf("payload-%d", i))), result.Size)
		assert.NotEmpty(t, result.LocalPath)
	}
}

func TestDownloadAllIsolatesFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStorage()
	var records []*catalog.DatasetRecord
	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("http://example.com/file-%d.csv", i)
		fetcher.bodies[url] = "payload"
		records = append(records, record(fmt.Sprintf("ref-%d", i), "CSV", url))
	}
	fetcher.fail["http://example.com/file-2.csv"] = errors.New("connection reset")

	results := newTestPool(2, fetcher, store).DownloadAll(context.Background(), records)

	require.Len(t, results, 5)
	for i, result := range results {
		if i == 2 {
			assert.Equal(t, OutcomeFailed, result.Outcome)
			assert.ErrorContains(t, result.Err, "connection reset")
			continue
		}
		assert.Equal(t, OutcomeSuccess, result.Outcome, "sibling %d must not be affected", i)
	}
}

func TestDownloadSkipsWithoutSelection(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStorage()
	records := []*catalog.DatasetRecord{record("ref-0", "", "")}

	results := newTestPool(1, fetcher, store).DownloadAll(context.Background(), records)

	require.Len(t, results, 1)
	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
	assert.Equal(t, SkipNoMatchingFormat, results[0].Reason)
	// Skipping is decided before any network I/O
	assert.Empty(t, fetcher.fetches)
}

func TestDownloadSkipsAlreadyPresent(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStorage()
	url := "http://example.com/data.csv"
	fetcher.bodies[url] = "payload"
	rec := record("ref-0", "CSV", url)
	store.presence["ref-0/ref-0_file.csv"] = true

	results := newTestPool(1, fetcher, store).DownloadAll(context.Background(), []*catalog.DatasetRecord{rec})

	require.Len(t, results, 1)
	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
	assert.Equal(t, SkipAlreadyPresent, results[0].Reason)
	assert.Zero(t, fetcher.fetchCount(url))
}

func TestDownloadSaveFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStorage()
	store.saveErr = errors.New("disk full")
	url := "http://example.com/data.csv"
	fetcher.bodies[url] = "payload"

	results := newTestPool(1, fetcher, store).DownloadAll(context.Background(), []*catalog.DatasetRecord{record("ref-0", "CSV", url)})

	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.ErrorContains(t, results[0].Err, "disk full")
}

func TestDownloadAllCancellation(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.delay = 50 * time.Millisecond
	store := newFakeStorage()

	var records []*catalog.DatasetRecord
	for i := 0; i < 8; i++ {
		url := fmt.Sprintf("http://example.com/file-%d.csv", i)
		fetcher.bodies[url] = "payload"
		records = append(records, record(fmt.Sprintf("ref-%d", i), "CSV", url))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results := newTestPool(1, fetcher, store).DownloadAll(ctx, records)

	// Cancellation still yields one result per record
	require.Len(t, results, 8)
	failed := 0
	for i, result := range results {
		assert.Equal(t, i, result.Index)
		if result.Outcome == OutcomeFailed {
			failed++
		}
	}
	assert.Greater(t, failed, 0, "cancelled jobs must be reported as failed")
}

func TestSubmitAfterCancel(t *testing.T) {
	pool := newTestPool(1, newFakeFetcher(), newFakeStorage())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the queue so Submit has to block, then observe the context
	for i := 0; i < cap(pool.jobQueue); i++ {
		require.NoError(t, pool.Submit(context.Background(), DownloadJob{Index: i, Record: record("r", "", "")}))
	}
	err := pool.Submit(ctx, DownloadJob{Index: 99, Record: record("r", "", "")})
	assert.ErrorIs(t, err, context.Canceled)
}
