// Package flickr talks to the remote photo listing API and turns its JSON
// responses into photos.
package flickr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jdholdren/photorama/internal/metrics"
	"github.com/jdholdren/photorama/internal/photorama"
)

const (
	DefaultBaseURL     = "https://api.flickr.com/services/rest"
	DefaultMaxBodySize = 10 << 20
)

// DefaultExtras are the optional response fields requested with every listing.
//
// url_h, date_taken and date_upload are required to build a photo; the rest are
// carried along in the snapshot the companion reads.
var DefaultExtras = []string{
	"url_h", "date_taken", "date_upload", "tags",
	"url_sq", "url_t", "url_s", "url_q", "url_m", "url_n", "url_z", "url_c", "url_l", "url_o",
}

// Remote method per feed.
var methods = map[photorama.FeedType]string{
	photorama.FeedInteresting: "flickr.interestingness.getList",
	photorama.FeedRecent:      "flickr.photos.getRecent",
}

// Config is everything needed to address the API. It is injected so tests can
// point the client at a fake server.
type Config struct {
	BaseURL string
	APIKey  string
	Extras  []string

	// Paces outgoing requests. Zero means no limit.
	RequestsPerSecond float64
	MaxBodySize       int64
}

// Client fetches raw feed listings. It never retries; that's up to the caller.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Collector
}

// NewClient validates cfg and creates a client. If hc is nil a client with a
// 10 second timeout is used.
func NewClient(cfg Config, hc *http.Client, m *metrics.Collector) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("flickr api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Extras) == 0 {
		cfg.Extras = DefaultExtras
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid flickr base url %q", cfg.BaseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		cfg:     cfg,
		base:    base,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		metrics: m,
	}, nil
}

// FeedURL builds the request URL for the given feed.
func (c *Client) FeedURL(feed photorama.FeedType) (string, error) {
	method, ok := methods[feed]
	if !ok {
		return "", fmt.Errorf("unknown feed type %q", feed)
	}

	u := *c.base
	q := u.Query()
	q.Set("method", method)
	q.Set("format", "json")
	q.Set("nojsoncallback", "1")
	q.Set("safe_search", "1")
	q.Set("api_key", c.cfg.APIKey)
	q.Set("extras", strings.Join(c.cfg.Extras, ","))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// FetchFeed performs a single GET of the listing and returns the body untouched.
//
// Any transport failure or non-2xx answer is reported as [photorama.ErrTransport].
func (c *Client) FetchFeed(ctx context.Context, feed photorama.FeedType) ([]byte, error) {
	start := time.Now()
	byts, err := c.fetch(ctx, feed)
	if err != nil {
		c.metrics.RecordFeedFetch(feed.String(), metrics.OutcomeFailure, time.Since(start))
		return nil, err
	}
	c.metrics.RecordFeedFetch(feed.String(), metrics.OutcomeSuccess, time.Since(start))

	slog.DebugContext(ctx, "fetched feed", "feed", feed, "bytes", len(byts), "duration", time.Since(start))

	return byts, nil
}

func (c *Client) fetch(ctx context.Context, feed photorama.FeedType) ([]byte, error) {
	u, err := c.FeedURL(feed)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting to fetch feed: %w", photorama.ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("error building feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: error getting feed: %w", photorama.ErrTransport, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordHTTPStatus(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status code: %d", photorama.ErrTransport, resp.StatusCode)
	}

	byts, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: error reading feed body: %w", photorama.ErrTransport, err)
	}
	if int64(len(byts)) > c.cfg.MaxBodySize {
		return nil, fmt.Errorf("%w: feed body larger than %d bytes", photorama.ErrTransport, c.cfg.MaxBodySize)
	}

	return byts, nil
}
