package catalog

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	errs "github.com/av1m/datagovuk-scraper/pkg/errors"
	"github.com/av1m/datagovuk-scraper/pkg/logger"
	"github.com/av1m/datagovuk-scraper/pkg/ratelimit"
	"github.com/av1m/datagovuk-scraper/pkg/retry"
)

// Client issues GET requests against the catalog and resource hosts.
// It owns the shared connection pool for the whole run and must be
// released with Close exactly once.
type Client struct {
	httpClient     *http.Client
	headers        map[string]string
	baseURL        string
	requestTimeout time.Duration
	maxRetries     int
	limiter        ratelimit.Limiter
	logger         logger.Logger
}

// ClientOptions configures a Client
type ClientOptions struct {
	BaseURL        string
	UserAgent      string
	RequestTimeout time.Duration
	MaxRetries     int
	Limiter        ratelimit.Limiter
	Logger         logger.Logger
}

// NewClient creates a new catalog client
func NewClient(opts ClientOptions) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	headers := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-GB,en;q=0.9",
	}
	if opts.UserAgent != "" {
		headers["User-Agent"] = opts.UserAgent
	}

	return &Client{
		// Timeouts are applied per call via context so that large
		// resource downloads are not cut off by a client-wide deadline.
		httpClient:     &http.Client{},
		headers:        headers,
		baseURL:        opts.BaseURL,
		requestTimeout: opts.RequestTimeout,
		maxRetries:     opts.MaxRetries,
		limiter:        opts.Limiter,
		logger:         log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SearchPageURL builds the search results URL for a query and page number
func (c *Client) SearchPageURL(query SearchQuery, page int) string {
	params := url.Values{}
	params.Set("q", query.Keyword)
	if query.TargetFormat != FormatNone {
		params.Set("filters[format]", string(query.TargetFormat))
	}
	params.Set("sort", "best")
	params.Set("page", fmt.Sprintf("%d", page))
	return fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())
}

// DatasetURL builds the detail page URL for a dataset reference
func (c *Client) DatasetURL(ref DatasetRef) string {
	if ref.Path != "" {
		return c.baseURL + ref.Path
	}
	return fmt.Sprintf("%s/dataset/%s", c.baseURL, ref.ID)
}

// FetchPage GETs a page and returns its body, retrying transient failures
// with backoff up to maxRetries extra attempts after the first
func (c *Client) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	return retry.DoWithResult(func() ([]byte, error) {
		return c.fetchOnce(ctx, pageURL)
	}, &retry.Config{
		MaxAttempts: c.maxRetries + 1,
		Backoff:     retry.DefaultExponentialBackoff(),
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	})
}

// fetchOnce performs a single GET with the per-call timeout
func (c *Client) fetchOnce(ctx context.Context, pageURL string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.doRequest(reqCtx, pageURL)
	if err != nil {
		// A tripped per-call deadline with the caller's context still live
		// is a stalled transport, not a cancellation; retype it so the
		// retry layer treats it as transient.
		if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &errs.Error{
				Type:    errs.ErrorTypeNetwork,
				Message: fmt.Sprintf("request timed out after %s", c.requestTimeout),
			}
		}
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
		}
	}
	return body, nil
}

// FetchStream GETs a resource URL and hands back the response body for
// streaming. The caller owns the ReadCloser. No retries: download
// failures are isolated per item by the coordinator.
func (c *Client) FetchStream(ctx context.Context, resourceURL string) (io.ReadCloser, error) {
	resp, err := c.doRequest(ctx, resourceURL)
	if err != nil {
		return nil, err
	}

	if err := c.checkResponseStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// doRequest performs a GET with the configured headers and rate limit
func (c *Client) doRequest(ctx context.Context, rawURL string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		if ctx.Err() != nil {
			// Surface cancellation untyped so retry gives up immediately
			return nil, ctx.Err()
		}
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
		}
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})
	return resp, nil
}

// checkResponseStatus maps non-success statuses to typed errors
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &errs.Error{
			Type:    errs.ErrorTypeNotFound,
			Message: "page not found",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &errs.Error{
			Type:    errs.ErrorTypeRateLimit,
			Message: "rate limit exceeded",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode >= 500:
		return &errs.Error{
			Type:    errs.ErrorTypeServerError,
			Message: fmt.Sprintf("server returned status %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	default:
		return &errs.Error{
			Type:    errs.ErrorTypeUnknown,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}
}

// Close releases the client's idle connections. Safe to call more than once.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
