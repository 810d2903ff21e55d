// Package collyfetcher implements artifact.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxBodySize = 10 << 20
)

// ErrBodyTooLarge reports a response body over Config.MaxBodyBytes. A page is
// never injected from a truncated body.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Fetcher implements artifact.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodySize
	}
	// Every submission reflects the page as it is now, so revisits are allowed
	// and nothing is cached between calls.
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		// Colly truncates silently; the transport enforces the limit instead.
		colly.MaxBodySize(0),
	)

	// Clones share the backend HTTP client, so transport and timeout are set
	// once here and never per request.
	c.WithTransport(newRobotsFailOpenTransport(newBodyLimitTransport(newHTTPTransport(), int64(cfg.MaxBodyBytes))))
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// ValidateURL rejects anything that is not an absolute http(s) URL.
func ValidateURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty url", artifact.ErrInvalidURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", artifact.ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", artifact.ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", artifact.ErrInvalidURL)
	}
	return u, nil
}

// Fetch executes a single HTTP GET using Colly. Non-2xx responses, transport
// errors and timeouts are reported as *artifact.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) (artifact.Markup, error) {
	u, err := ValidateURL(sourceURL)
	if err != nil {
		return artifact.Markup{}, err
	}
	target := u.String()

	var (
		result   artifact.Markup
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return artifact.Markup{}, &artifact.FetchError{URL: target, Err: err}
	}
	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusMultipleChoices {
		return artifact.Markup{}, &artifact.FetchError{URL: target, StatusCode: result.StatusCode}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	start time.Time,
	result *artifact.Markup,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *artifact.Markup,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = artifact.Markup{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: transcodedContentType(contentType),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// transcodedContentType reports the content type of a body colly has already
// converted to UTF-8. Colly transcodes textual responses whose declared charset
// is not UTF-8, so the declared label no longer describes the bytes.
func transcodedContentType(contentType string) string {
	lower := strings.ToLower(contentType)
	for _, binary := range []string{"image/", "video/", "audio/", "application/octet-stream"} {
		if strings.Contains(lower, binary) {
			return contentType
		}
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	cs, ok := params["charset"]
	if !ok {
		return contentType
	}
	switch strings.ToLower(cs) {
	case "utf-8", "utf8":
		return contentType
	}
	params["charset"] = "utf-8"
	return mime.FormatMediaType(mediaType, params)
}

type bodyLimitTransport struct {
	base  http.RoundTripper
	limit int64
}

func newBodyLimitTransport(base http.RoundTripper, limit int64) *bodyLimitTransport {
	return &bodyLimitTransport{base: base, limit: limit}
}

func (t *bodyLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > t.limit {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: content-length %d > %d", ErrBodyTooLarge, resp.ContentLength, t.limit)
	}
	resp.Body = &limitedBody{ReadCloser: resp.Body, remaining: t.limit}
	return resp, nil
}

// limitedBody fails the read that crosses the limit rather than ending the
// stream early.
type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n, fmt.Errorf("%w: more than the configured bytes", ErrBodyTooLarge)
	}
	return n, err
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
