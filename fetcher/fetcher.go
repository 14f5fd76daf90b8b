// Package fetcher retrieves feed documents over HTTP with conditional requests
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"panda/models"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultUserAgent    = "panda-feed-engine/1.0 (+https://github.com/panda)"
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 10 << 20

	accept = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"
)

// Fetcher performs one retrieval of a feed document
type Fetcher interface {
	Fetch(ctx context.Context, feed models.Feed) models.FetchResult
}

// Config holds configuration for the HTTP fetcher
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	// Retries for failed connections within a single fetch. HTTP status
	// codes are never retried here, the scheduler's backoff handles those.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = 500 * time.Millisecond
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		c.RetryWaitMax = 5 * c.RetryWaitMin
	}
	return c
}

type HTTPFetcher struct {
	client *retryablehttp.Client
	cfg    Config
}

var _ Fetcher = (*HTTPFetcher)(nil)

func New(cfg Config) *HTTPFetcher {
	cfg = cfg.withDefaults()

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.Logger = leveledLogger{entry: log.WithField("component", "fetcher")}
	client.CheckRetry = retryConnectionErrors
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPFetcher{client: client, cfg: cfg}
}

// retryConnectionErrors retries transport failures only. Responses of any
// status are handed back for classification.
func retryConnectionErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, feed models.Feed) models.FetchResult {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, feed.Url, nil)
	if err != nil {
		return failure(&models.FetchError{Kind: models.HttpClientError, Err: fmt.Errorf("build request: %w", err)})
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", accept)
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return failure(&models.FetchError{Kind: models.NetworkError, Err: err})
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	return f.classify(resp, time.Now())
}

func (f *HTTPFetcher) classify(resp *http.Response, now time.Time) models.FetchResult {
	status := resp.StatusCode
	switch {
	case status == http.StatusNotModified:
		return models.FetchResult{
			Status:          models.FetchNotModified,
			NewETag:         resp.Header.Get("ETag"),
			NewLastModified: resp.Header.Get("Last-Modified"),
		}

	case status >= 200 && status < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
		if err != nil {
			return failure(&models.FetchError{Kind: models.NetworkError, Err: fmt.Errorf("read body: %w", err)})
		}
		if int64(len(body)) > f.cfg.MaxBodyBytes {
			return failure(&models.FetchError{
				Kind: models.NetworkError,
				Err:  fmt.Errorf("body exceeds %d bytes", f.cfg.MaxBodyBytes),
			})
		}
		return models.FetchResult{
			Status:          models.FetchSuccess,
			Body:            body,
			ContentType:     resp.Header.Get("Content-Type"),
			NewETag:         resp.Header.Get("ETag"),
			NewLastModified: resp.Header.Get("Last-Modified"),
		}

	case status == http.StatusTooManyRequests:
		return failure(&models.FetchError{
			Kind:       models.RateLimited,
			StatusCode: status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
		})

	case status >= 400 && status < 500:
		return failure(&models.FetchError{Kind: models.HttpClientError, StatusCode: status})
	}

	return failure(&models.FetchError{Kind: models.HttpServerError, StatusCode: status})
}

func failure(err *models.FetchError) models.FetchResult {
	status := models.FetchTransientError
	if err.Permanent() {
		status = models.FetchPermanentError
	}
	return models.FetchResult{Status: status, Err: err}
}

// parseRetryAfter accepts delay seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// IsCancelled reports whether a fetch error stems from the caller's context
func IsCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
