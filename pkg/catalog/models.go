package catalog

import (
	"fmt"
	"strings"
)

// Format is a distribution file format indexed by the catalog
type Format string

const (
	FormatNone Format = "" // metadata-only run, no resource selection
	FormatCSV  Format = "CSV"
	FormatODS  Format = "ODS"
	FormatHTML Format = "HTML"
	FormatPDF  Format = "PDF"
	FormatXLS  Format = "XLS"
	FormatZIP  Format = "ZIP"
)

// ParseFormat converts a user-supplied format string to a Format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FormatNone, nil
	case "csv":
		return FormatCSV, nil
	case "ods":
		return FormatODS, nil
	case "html":
		return FormatHTML, nil
	case "pdf":
		return FormatPDF, nil
	case "xls":
		return FormatXLS, nil
	case "zip":
		return FormatZIP, nil
	default:
		return FormatNone, fmt.Errorf("unsupported format %q (allowed: csv, ods, html, pdf, xls, zip)", s)
	}
}

// SearchQuery drives all fetches for one run
type SearchQuery struct {
	Keyword      string
	TargetFormat Format
}

// DatasetRef identifies one catalog entry discovered during search pagination
type DatasetRef struct {
	// ID is the catalog-assigned slug, e.g. "a7d72401-5c0c-464e-be7b-7a332a138ffd"
	ID string
	// Title from the search result row
	Title string
	// Path is the dataset page path, e.g. "/dataset/<id>/<slug>"
	Path string
}

// Resource is a single downloadable file attached to a dataset
type Resource struct {
	Title    string `json:"name"`
	Format   string `json:"format"`
	URL      string `json:"url"`
	Added    string `json:"file_added,omitempty"`
	SizeHint string `json:"size,omitempty"`
}

// Metadata holds the descriptive fields parsed from a dataset detail page
type Metadata struct {
	Title       string   `json:"title"`
	PublishedBy string   `json:"published_by"`
	LastUpdated string   `json:"last_updated"`
	Description string   `json:"description"`
	Licence     string   `json:"licence"`
	Tags        []string `json:"tags,omitempty"`
}

// DatasetRecord is a fully resolved dataset: its reference, parsed metadata,
// the full resource list, and the at-most-one resource matching the run's
// target format. Immutable once resolved; re-resolution overwrites.
type DatasetRecord struct {
	Ref       DatasetRef
	Metadata  Metadata
	Resources []Resource
	// Selected is the resource matching the target format, nil if none
	// matched or the run is metadata-only
	Selected *Resource
}

// SearchPage is one parsed page of search results
type SearchPage struct {
	// Refs in result ranking order
	Refs []DatasetRef
	// TotalResults is the catalog-reported match count for the query
	TotalResults int
}

// DatasetDetail is a parsed detail page
type DatasetDetail struct {
	Metadata  Metadata
	Resources []Resource
}

// SelectResource picks the first resource whose format equals target,
// case-insensitively. Returns nil when target is unset or nothing matches.
// Pure: same inputs always yield the same selection.
func SelectResource(resources []Resource, target Format) *Resource {
	if target == FormatNone {
		return nil
	}
	want := strings.ToLower(string(target))
	for i := range resources {
		if strings.ToLower(strings.TrimSpace(resources[i].Format)) == want {
			return &resources[i]
		}
	}
	return nil
}
