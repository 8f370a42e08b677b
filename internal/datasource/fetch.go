// Package datasource is the resolver's upstream-fetch transport: given a
// URL already substituted from a source's template (§4.F), it performs
// the bounded HTTP GET and classifies the response the way the forward
// path needs — success, "no tile available" (204/404, swallowed per §7),
// or a raised Upstream error carrying the status code. It also tracks
// simple in-flight/byte counters in the same shape as the teacher's
// FetchQueue status, for the serve command's health/status surface.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout is the 30-second upstream fetch timeout §4.F and §5 both
// specify as the default for every forward request.
const DefaultTimeout = 30 * time.Second

// ErrNoUpstreamTile signals a 204 or 404 response, which §7 says must be
// treated as "no tile available" rather than an error: the caller falls
// back to the same NotFound handling as a plain storage miss.
var ErrNoUpstreamTile = errors.New("datasource: upstream has no tile at this coordinate")

// UpstreamError wraps a non-2xx, non-204/404 response with its status
// code, preserved per §7 so the HTTP collaborator can surface it.
type UpstreamError struct {
	URL    string
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("datasource: upstream %s returned status %d", e.URL, e.Status)
}

// Status is a point-in-time snapshot of fetch activity, mirroring the
// teacher FetchQueue's progress fields for the serve command's status
// route.
type Status struct {
	ActiveFetches  int32
	TotalCompleted int64
	TotalFailed    int64
	TotalBytes     int64
}

// Client performs upstream tile/font/sprite/style/geojson fetches for the
// resolver's forward path. One Client is shared by every registry entry;
// it holds no per-source state.
type Client struct {
	http    *http.Client
	logger  *slog.Logger
	active  atomic.Int32
	done    atomic.Int64
	failed  atomic.Int64
	bytes   atomic.Int64
	tilesMu sync.Mutex
	inFlt   map[string]time.Time
}

// NewClient builds a Client with the given per-request timeout. A zero
// timeout falls back to DefaultTimeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
		inFlt:  make(map[string]time.Time),
	}
}

// Fetch issues GET url with headers and returns the response body.
// A 204 or 404 response yields ErrNoUpstreamTile; any other non-2xx
// status yields *UpstreamError; both are distinguishable via errors.As
// and errors.Is.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	c.active.Add(1)
	c.tilesMu.Lock()
	c.inFlt[url] = time.Now()
	c.tilesMu.Unlock()
	defer func() {
		c.active.Add(-1)
		c.tilesMu.Lock()
		delete(c.inFlt, url)
		c.tilesMu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.failed.Add(1)
		return nil, fmt.Errorf("datasource: build request for %q: %w", url, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.failed.Add(1)
		return nil, fmt.Errorf("datasource: fetch %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		c.done.Add(1)
		return nil, ErrNoUpstreamTile
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.failed.Add(1)
		return nil, &UpstreamError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.failed.Add(1)
		return nil, fmt.Errorf("datasource: read body of %q: %w", url, err)
	}

	c.done.Add(1)
	c.bytes.Add(int64(len(body)))
	c.logger.Debug("datasource: fetched", "url", url, "bytes", len(body))
	return body, nil
}

// Status reports a snapshot of current fetch activity.
func (c *Client) Status() Status {
	return Status{
		ActiveFetches:  c.active.Load(),
		TotalCompleted: c.done.Load(),
		TotalFailed:    c.failed.Load(),
		TotalBytes:     c.bytes.Load(),
	}
}
