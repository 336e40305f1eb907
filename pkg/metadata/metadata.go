// Package metadata persists the run's descriptive record set: one
// self-contained entry per resolved dataset, joined with its download
// outcome, written in a single atomic step.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/av1m/datagovuk-scraper/internal/downloader"
	"github.com/av1m/datagovuk-scraper/pkg/catalog"
)

// OutcomeNotAttempted marks entries for runs where downloads never ran
const OutcomeNotAttempted = "not attempted"

// Entry is the persisted record for one dataset
type Entry struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	URL       string             `json:"url"`
	Metadata  catalog.Metadata   `json:"metadata"`
	Resources []catalog.Resource `json:"files"`
	Download  DownloadInfo       `json:"download"`
}

// DownloadInfo records how the dataset's selected resource fared
type DownloadInfo struct {
	Outcome   string `json:"outcome"`
	LocalPath string `json:"local_path,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Write joins records with their download results and persists the batch to
// a timestamped JSON file in dir. The full structure is buffered in memory
// and written to a temporary file renamed into place, so an interrupted
// write never leaves a truncated metadata file.
//
// results may be nil when downloads were skipped entirely; every entry is
// then marked as not attempted. When present, results must parallel records
// by index (discovery order).
func Write(dir string, records []*catalog.DatasetRecord, results []downloader.DownloadResult) (string, error) {
	if results != nil && len(results) != len(records) {
		return "", fmt.Errorf("got %d download results for %d records", len(results), len(records))
	}

	entries := make([]Entry, 0, len(records))
	for i, record := range records {
		entry := Entry{
			ID:        record.Ref.ID,
			Title:     record.Metadata.Title,
			URL:       record.Ref.Path,
			Metadata:  record.Metadata,
			Resources: record.Resources,
			Download:  DownloadInfo{Outcome: OutcomeNotAttempted},
		}
		if results != nil {
			entry.Download = downloadInfo(results[i])
		}
		entries = append(entries, entry)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create metadata directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("datasets-metadata-%d.json", time.Now().Unix()))
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to write metadata file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to rename metadata file: %w", err)
	}

	return path, nil
}

func downloadInfo(result downloader.DownloadResult) DownloadInfo {
	info := DownloadInfo{
		Outcome:   string(result.Outcome),
		LocalPath: result.LocalPath,
		SizeBytes: result.Size,
		Reason:    result.Reason,
	}
	if result.Err != nil {
		info.Error = result.Err.Error()
	}
	return info
}
