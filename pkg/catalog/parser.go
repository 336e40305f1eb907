package catalog

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	errs "github.com/av1m/datagovuk-scraper/pkg/errors"
)

// Selectors for the catalog's markup. The catalog has no API contract, so
// these track the rendered search and detail page layouts.
const (
	selResultsCount  = `span[class='govuk-body-s govuk-!-font-weight-bold']`
	selResultRow     = `div.dgu-results__result`
	selDetailTitle   = `h1[property='dc:title']`
	selPublisher     = `dd[property='dc:creator']`
	selLastUpdated   = `dd[property='dc:date']`
	selDescription   = `div[property='dc:description']`
	selLicence       = `dd[property='dc:rights']`
	selTags          = `dd[property='dc:subject'] a`
	selResourceCells = `td.govuk-table__cell`
)

// resourceColumns is the number of cells per row in the resource table:
// link+name, format, date added, size
const resourceColumns = 4

// ParseSearchPage turns one search results page into an ordered list of
// dataset references plus the catalog-reported total match count.
// A missing result-count anchor means the page layout changed and yields a
// parsing error; a present anchor with zero result rows is a valid empty page.
func ParseSearchPage(raw []byte) (*SearchPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse search page markup: %v", err),
		}
	}

	countSel := doc.Find(selResultsCount).First()
	if countSel.Length() == 0 {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: "results count anchor not found on search page",
		}
	}
	countText := strings.ReplaceAll(strings.TrimSpace(countSel.Text()), ",", "")
	total, err := strconv.Atoi(countText)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("results count %q is not a number", countText),
		}
	}

	page := &SearchPage{TotalResults: total}
	doc.Find(selResultRow).Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find("a[href^='/dataset/']").First()
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		segments := strings.Split(strings.Trim(href, "/"), "/")
		if len(segments) < 2 || segments[0] != "dataset" {
			return
		}
		page.Refs = append(page.Refs, DatasetRef{
			ID:    segments[1],
			Title: strings.TrimSpace(row.Find("h2 a").First().Text()),
			Path:  href,
		})
	})

	return page, nil
}

// ParseDetailPage turns a dataset detail page into its metadata fields and
// ordered resource list. The dc:title heading is the structural anchor; a
// reachable page without a resource table yields metadata with an empty
// resource list.
func ParseDetailPage(raw []byte) (*DatasetDetail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse detail page markup: %v", err),
		}
	}

	title := doc.Find(selDetailTitle).First()
	if title.Length() == 0 {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: "dataset title anchor not found on detail page",
		}
	}

	detail := &DatasetDetail{
		Metadata: Metadata{
			Title:       strings.TrimSpace(title.Text()),
			PublishedBy: strings.TrimSpace(doc.Find(selPublisher).First().Text()),
			LastUpdated: strings.TrimSpace(doc.Find(selLastUpdated).First().Text()),
			Description: strings.TrimSpace(doc.Find(selDescription).First().Text()),
			Licence:     strings.TrimSpace(doc.Find(selLicence).First().Text()),
			Tags:        parseTags(doc),
		},
	}

	resources, err := parseResourceTable(doc)
	if err != nil {
		return nil, err
	}
	detail.Resources = resources

	return detail, nil
}

// parseTags collects the dataset's topic tags as a sorted, de-duplicated set
func parseTags(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var tags []string
	doc.Find(selTags).Each(func(_ int, sel *goquery.Selection) {
		tag := strings.TrimSpace(sel.Text())
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	})
	sort.Strings(tags)
	return tags
}

// parseResourceTable walks the resource table cells in groups of four
func parseResourceTable(doc *goquery.Document) ([]Resource, error) {
	cells := doc.Find(selResourceCells)
	if cells.Length() == 0 {
		return nil, nil
	}
	if cells.Length()%resourceColumns != 0 {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("resource table has %d cells, expected a multiple of %d", cells.Length(), resourceColumns),
		}
	}

	var resources []Resource
	nodes := cells.Nodes
	for i := 0; i+resourceColumns <= len(nodes); i += resourceColumns {
		linkCell := doc.FindNodes(nodes[i])
		anchor := linkCell.Find("a").First()
		href, ok := anchor.Attr("href")
		if !ok {
			continue
		}
		name := directText(anchor)
		if name == "" {
			name = strings.TrimSpace(anchor.Text())
		}
		resources = append(resources, Resource{
			Title:    name,
			URL:      href,
			Format:   strings.TrimSpace(doc.FindNodes(nodes[i+1]).Text()),
			Added:    strings.TrimSpace(doc.FindNodes(nodes[i+2]).Text()),
			SizeHint: strings.TrimSpace(doc.FindNodes(nodes[i+3]).Text()),
		})
	}
	return resources, nil
}

// directText returns the trimmed concatenation of a selection's immediate
// text node children, skipping element children such as the visually-hidden
// spans the catalog nests inside resource links
func directText(sel *goquery.Selection) string {
	var buf bytes.Buffer
	for _, node := range sel.Nodes {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.TextNode {
				buf.WriteString(child.Data)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
