package downloader

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/av1m/datagovuk-scraper/pkg/catalog"
	"github.com/av1m/datagovuk-scraper/pkg/logger"
	"github.com/av1m/datagovuk-scraper/pkg/storage"
)

// Outcome classifies the result of one download attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// SkipNoMatchingFormat is the reason recorded for records that carry no
// resource in the requested format; it is a normal outcome, not an error
const SkipNoMatchingFormat = "no matching format"

// SkipAlreadyPresent is the reason recorded when the target file already
// exists on disk from a previous run
const SkipAlreadyPresent = "already downloaded"

// DownloadJob is one dataset record queued for download
type DownloadJob struct {
	// Index is the record's position in discovery order; results are
	// slotted back by it
	Index  int
	Record *catalog.DatasetRecord
}

// DownloadResult is the outcome of one download job
type DownloadResult struct {
	Index     int
	Ref       string
	Outcome   Outcome
	LocalPath string
	Size      int64
	Reason    string
	Err       error
	Duration  time.Duration
}

// ResourceFetcher streams a resource body from its download URL
type ResourceFetcher interface {
	FetchStream(ctx context.Context, url string) (io.ReadCloser, error)
}

// ResourceStorage persists resource streams and answers presence checks
type ResourceStorage interface {
	IsDownloaded(refID, filename string) bool
	SaveResource(r io.Reader, refID, filename string) (string, int64, error)
}

// WorkerPool executes resource downloads with bounded concurrency. Each
// download is isolated: one item's failure never cancels or delays its
// siblings.
type WorkerPool struct {
	numWorkers  int
	timeout     time.Duration
	jobQueue    chan DownloadJob
	resultQueue chan DownloadResult
	wg          sync.WaitGroup
	client      ResourceFetcher
	store       ResourceStorage
	logger      logger.Logger
}

// NewWorkerPool creates a download worker pool
func NewWorkerPool(numWorkers int, timeout time.Duration, client ResourceFetcher, store ResourceStorage, log logger.Logger) *WorkerPool {
	if log == nil {
		log = logger.GetLogger()
	}
	return &WorkerPool{
		numWorkers:  numWorkers,
		timeout:     timeout,
		jobQueue:    make(chan DownloadJob, numWorkers*2),
		resultQueue: make(chan DownloadResult, numWorkers),
		client:      client,
		store:       store,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.logger.InfoWithFields("starting download workers", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Stop closes the job queue, waits for the workers to drain it, then
// closes the result queue
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
}

// Submit queues a download job, blocking when all workers are busy and the
// queue is full. Returns the context error if the run was cancelled.
func (wp *WorkerPool) Submit(ctx context.Context, job DownloadJob) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the channel download results arrive on, in completion order
func (wp *WorkerPool) Results() <-chan DownloadResult {
	return wp.resultQueue
}

// DownloadAll runs every record through the pool and returns one result per
// record, slotted back into discovery order regardless of completion order
func (wp *WorkerPool) DownloadAll(ctx context.Context, records []*catalog.DatasetRecord) []DownloadResult {
	wp.Start(ctx)

	go func() {
		for i, record := range records {
			if err := wp.Submit(ctx, DownloadJob{Index: i, Record: record}); err != nil {
				break
			}
		}
		wp.Stop()
	}()

	results := make([]DownloadResult, len(records))
	seen := make([]bool, len(records))
	for result := range wp.resultQueue {
		results[result.Index] = result
		seen[result.Index] = true
	}

	// Jobs never processed (cancelled mid-run) still get a per-item result
	for i := range results {
		if !seen[i] {
			results[i] = DownloadResult{
				Index:   i,
				Ref:     records[i].Ref.ID,
				Outcome: OutcomeFailed,
				Err:     ctx.Err(),
			}
		}
	}
	return results
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		// Cancellation is checked between individual downloads
		if ctx.Err() != nil {
			return
		}
		wp.resultQueue <- wp.processJob(ctx, job, id)
	}
}

// processJob handles a single download job
func (wp *WorkerPool) processJob(ctx context.Context, job DownloadJob, workerID int) DownloadResult {
	start := time.Now()
	result := DownloadResult{
		Index: job.Index,
		Ref:   job.Record.Ref.ID,
	}

	resource := job.Record.Selected
	if resource == nil {
		result.Outcome = OutcomeSkipped
		result.Reason = SkipNoMatchingFormat
		result.Duration = time.Since(start)
		return result
	}

	filename := storage.ResourceFilename(resource.Title, resource.URL)

	if wp.store.IsDownloaded(job.Record.Ref.ID, filename) {
		wp.logger.DebugWithFields("resource already on disk", map[string]interface{}{
			"worker_id": workerID,
			"ref":       job.Record.Ref.ID,
			"file":      filename,
		})
		result.Outcome = OutcomeSkipped
		result.Reason = SkipAlreadyPresent
		result.Duration = time.Since(start)
		return result
	}

	// Per-download timeout so one slow transfer cannot stall the pool
	dlCtx, cancel := context.WithTimeout(ctx, wp.timeout)
	defer cancel()

	body, err := wp.client.FetchStream(dlCtx, resource.URL)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("download failed: %w", err)
		result.Duration = time.Since(start)

		wp.logger.ErrorWithFields("worker failed to fetch resource", map[string]interface{}{
			"worker_id": workerID,
			"ref":       job.Record.Ref.ID,
			"url":       resource.URL,
			"error":     err.Error(),
		})
		return result
	}
	defer body.Close()

	path, size, err := wp.store.SaveResource(body, job.Record.Ref.ID, filename)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("save failed: %w", err)
		result.Duration = time.Since(start)

		wp.logger.ErrorWithFields("worker failed to save resource", map[string]interface{}{
			"worker_id": workerID,
			"ref":       job.Record.Ref.ID,
			"file":      filename,
			"error":     err.Error(),
		})
		return result
	}

	result.Outcome = OutcomeSuccess
	result.LocalPath = path
	result.Size = size
	result.Duration = time.Since(start)

	wp.logger.DebugWithFields("worker completed download", map[string]interface{}{
		"worker_id": workerID,
		"ref":       job.Record.Ref.ID,
		"file":      filename,
		"size":      size,
		"duration":  result.Duration,
	})
	return result
}
