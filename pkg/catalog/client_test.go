package catalog

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/av1m/datagovuk-scraper/pkg/errors"
)

func TestSearchPageURL(t *testing.T) {
	client := NewClient(ClientOptions{BaseURL: "https://data.gov.uk"})
	defer client.Close()

	url := client.SearchPageURL(SearchQuery{Keyword: "house prices", TargetFormat: FormatCSV}, 2)
	assert.Equal(t, "https://data.gov.uk/search?filters%5Bformat%5D=CSV&page=2&q=house+prices&sort=best", url)

	// Metadata-only queries omit the format filter
	url = client.SearchPageURL(SearchQuery{Keyword: "map"}, 1)
	assert.Equal(t, "https://data.gov.uk/search?page=1&q=map&sort=best", url)
}

func TestDatasetURL(t *testing.T) {
	client := NewClient(ClientOptions{BaseURL: "https://data.gov.uk"})
	defer client.Close()

	withPath := DatasetRef{ID: "abc", Path: "/dataset/abc/road-safety"}
	assert.Equal(t, "https://data.gov.uk/dataset/abc/road-safety", client.DatasetURL(withPath))

	idOnly := DatasetRef{ID: "abc"}
	assert.Equal(t, "https://data.gov.uk/dataset/abc", client.DatasetURL(idOnly))
}

func TestFetchPageRetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "recovered")
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, MaxRetries: 5, RequestTimeout: defaultTestTimeout})
	defer client.Close()

	body, err := client.FetchPage(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(body))
	assert.Equal(t, int32(2), requests.Load())
}

func TestFetchPageRetriesStalledRequest(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The first response stalls past the per-call deadline
		if requests.Add(1) == 1 {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		io.WriteString(w, "ok")
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(ClientOptions{
		BaseURL:        server.URL,
		MaxRetries:     3,
		RequestTimeout: 100 * time.Millisecond,
	})
	defer client.Close()

	body, err := client.FetchPage(context.Background(), server.URL+"/slow")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), requests.Load())
}

func TestFetchPageAttemptBudget(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, MaxRetries: 1, RequestTimeout: defaultTestTimeout})
	defer client.Close()

	_, err := client.FetchPage(context.Background(), server.URL+"/down")
	require.Error(t, err)
	// max_retries counts retries on top of the initial attempt
	assert.Equal(t, int32(2), requests.Load())
}

func TestFetchPageDoesNotRetryNotFound(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, MaxRetries: 5, RequestTimeout: defaultTestTimeout})
	defer client.Close()

	_, err := client.FetchPage(context.Background(), server.URL+"/missing")
	require.Error(t, err)
	assert.Equal(t, int32(1), requests.Load())

	var catalogErr *errs.Error
	require.ErrorAs(t, err, &catalogErr)
	assert.Equal(t, errs.ErrorTypeNotFound, catalogErr.Type)
}

func TestFetchPageSendsHeaders(t *testing.T) {
	var gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	client := NewClient(ClientOptions{
		BaseURL:        server.URL,
		UserAgent:      "datagovuk-test/1.0",
		MaxRetries:     1,
		RequestTimeout: defaultTestTimeout,
	})
	defer client.Close()

	_, err := client.FetchPage(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "datagovuk-test/1.0", gotAgent)
}

func TestFetchStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "col1,col2\n1,2\n")
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, RequestTimeout: defaultTestTimeout})
	defer client.Close()

	body, err := client.FetchStream(context.Background(), server.URL+"/data.csv")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "col1,col2\n1,2\n", string(data))
}

func TestFetchStreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, RequestTimeout: defaultTestTimeout})
	defer client.Close()

	_, err := client.FetchStream(context.Background(), server.URL+"/data.csv")
	require.Error(t, err)

	var catalogErr *errs.Error
	require.ErrorAs(t, err, &catalogErr)
	assert.Equal(t, errs.ErrorTypeRateLimit, catalogErr.Type)
}

func TestFetchPageCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, MaxRetries: 3, RequestTimeout: defaultTestTimeout})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchPage(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
}
