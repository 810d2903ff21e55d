package collyfetcher

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JakeFAU/pixelpage/internal/metrics"
)

// robotsFailOpenTransport answers robots.txt probes with an allow-all policy
// when the origin cannot be reached, so an unreachable robots.txt never
// blocks the page itself. Page requests pass through untouched.
type robotsFailOpenTransport struct {
	base http.RoundTripper
}

func newRobotsFailOpenTransport(base http.RoundTripper) *robotsFailOpenTransport {
	return &robotsFailOpenTransport{base: base}
}

func (t *robotsFailOpenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	resp, err := t.base.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if !isRobotsTxtRequest(req) {
		return nil, fmt.Errorf("roundtrip: %w", err)
	}
	metrics.ObserveRobotsFallback()
	return syntheticRobotsAllowAllResponse(req), nil
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}
