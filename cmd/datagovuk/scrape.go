package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/av1m/datagovuk-scraper/pkg/config"
	"github.com/av1m/datagovuk-scraper/pkg/logger"
	"github.com/av1m/datagovuk-scraper/pkg/scraper"
)

var (
	// Scrape command flags
	query        string
	numberRecord int
	outputFormat string
	outputDir    string
	concurrent   int
	maxRetries   int
	metadataOnly bool
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Search the catalog and download matching dataset files",
	Long: `Search data.gov.uk for datasets matching a keyword, resolve the
requested number of records, download each dataset's file in the chosen
format, and write one metadata file summarising the run.

Datasets without a file in the requested format are kept in the metadata
with a skipped download outcome.`,
	Example: `  # Download CSV files for the first 10 "house" datasets
  datagovuk scrape -q house -n 10

  # Fetch spreadsheet datasets into a specific directory
  datagovuk scrape -q spending -n 25 -f xls -o ./spending

  # Metadata only, no file downloads
  datagovuk scrape -q map -n 5 --metadata-only`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVarP(&query, "query", "q", "", "search query (required)")
	scrapeCmd.Flags().IntVarP(&numberRecord, "number-record", "n", 0, "number of records to fetch (required)")
	scrapeCmd.Flags().StringVarP(&outputFormat, "output", "f", "csv", "file format to download ("+strings.Join(config.Formats, ", ")+")")
	scrapeCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "destination directory (default: $HOME/datagovuk)")
	scrapeCmd.Flags().IntVar(&concurrent, "concurrent", 0, "number of concurrent downloads")
	scrapeCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "maximum retry attempts per page fetch")
	scrapeCmd.Flags().BoolVar(&metadataOnly, "metadata-only", false, "resolve and save metadata without downloading files")

	_ = scrapeCmd.MarkFlagRequired("query")
	_ = scrapeCmd.MarkFlagRequired("number-record")
}

// scrapeFlagOverrides collects the flag values that override file and
// environment configuration. Flags the user did not set are left out so
// they cannot clobber configured values.
func scrapeFlagOverrides() map[string]interface{} {
	flags := make(map[string]interface{})
	if outputDir != "" {
		flags["output-dir"] = outputDir
	}
	if concurrent > 0 {
		flags["concurrent-downloads"] = concurrent
	}
	if maxRetries > 0 {
		flags["max-retries"] = maxRetries
	}
	if verbose || debug {
		flags["log-level"] = logLevel()
	}
	return flags
}

func runScrape(cmd *cobra.Command, args []string) error {
	if numberRecord <= 0 {
		return fmt.Errorf("--number-record must be a positive integer, got %d", numberRecord)
	}
	if !config.IsValidFormat(outputFormat) {
		return fmt.Errorf("unsupported format %q (allowed: %s)", outputFormat, strings.Join(config.Formats, ", "))
	}

	cfg, err := config.Load(configFile, scrapeFlagOverrides())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return err
	}

	// Cancel the run on Ctrl-C; in-flight writes are discarded, never
	// left truncated
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format := outputFormat
	if metadataOnly {
		format = ""
	}

	start := time.Now()

	s, err := scraper.New(query, format, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	s.SetProgress(!debug)

	if err := s.Search(ctx); err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	fmt.Printf("Found %d datasets matching %q\n", s.TotalResults(), query)

	records, err := s.GetDatasets(ctx, numberRecord)
	if err != nil {
		return fmt.Errorf("resolved %d datasets before failure: %w", len(records), err)
	}

	if !metadataOnly {
		if _, err := s.Download(ctx); err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
	}

	path, err := s.SaveMetadata()
	if err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	fmt.Printf("Saved %d dataset records to %s\n", len(records), path)
	fmt.Printf("Execution time: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
