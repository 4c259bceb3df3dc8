// Package featureservice talks to an ArcGIS-style FeatureServer layer: token
// issuance, record counts and offset-paginated feature queries.
package featureservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stwalsh4118/featuresync/internal/logger"
	"github.com/stwalsh4118/featuresync/internal/metrics"
)

// DefaultBatchSize is the page size used when none is configured.
const DefaultBatchSize = 2000

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// Request kinds, used for logging and metrics labels.
const (
	requestCount = "count"
	requestFetch = "fetch"
)

// Client-level errors
var (
	ErrCountFailed       = errors.New("count query failed")
	ErrFetchInterrupted  = errors.New("fetch interrupted")
	ErrMissingIdentifier = errors.New("feature has no usable incremental identifier")
)

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// ServiceError is an error object reported inside a 200 response body.
type ServiceError struct {
	Code    int64
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error %d: %s", e.Code, e.Message)
}

// Query is the filter and field selection for one layer query.
type Query struct {
	Where            string
	IncrementalField string
	OutFields        string
}

// Options configures a Client.
type Options struct {
	QueryURL   string
	BatchSize  int
	Timeout    time.Duration
	HTTPClient *http.Client
	Session    TokenProvider
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
}

// Client issues count and fetch queries against one layer.
// Every call blocks; there is no overlap between requests.
type Client struct {
	queryURL   string
	batchSize  int
	httpClient *http.Client
	session    TokenProvider
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a Client. A nil Session sends requests without a token.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		queryURL:   opts.QueryURL,
		batchSize:  batchSize,
		httpClient: httpClient,
		session:    opts.Session,
		log:        log,
		metrics:    opts.Metrics,
	}
}

// BatchSize returns the configured page size.
func (c *Client) BatchSize() int {
	return c.batchSize
}

// token returns the session token, or "" when none can be derived.
// The failure is logged by the session; requests proceed unauthenticated.
func (c *Client) token(ctx context.Context) string {
	if c.session == nil {
		return ""
	}
	tok, err := c.session.Token(ctx)
	if err != nil {
		return ""
	}
	return tok
}

// get performs one GET against the query endpoint and returns the body.
func (c *Client) get(ctx context.Context, kind string, params url.Values) ([]byte, error) {
	if tok := c.token(ctx); tok != "" {
		params.Set("token", tok)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL+"?"+params.Encode(), nil)
	if err != nil {
		c.metrics.ObserveRequest(kind, metrics.StatusError)
		return nil, fmt.Errorf("failed to build %s request: %w", kind, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(kind, metrics.StatusError)
		return nil, fmt.Errorf("%s request failed: %w", kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveRequest(kind, metrics.StatusError)
		return nil, fmt.Errorf("failed to read %s response: %w", kind, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.ObserveRequest(kind, metrics.StatusError)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	// The service reports most failures as a 200 with an error object
	if serviceErr := gjson.GetBytes(body, "error"); serviceErr.Exists() {
		c.metrics.ObserveRequest(kind, metrics.StatusError)
		return nil, &ServiceError{
			Code:    serviceErr.Get("code").Int(),
			Message: serviceErr.Get("message").String(),
		}
	}

	c.metrics.ObserveRequest(kind, metrics.StatusOK)
	return body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
