// Package policy gates outbound fetches: blocked hosts are refused and
// permitted hosts are throttled before the wrapped fetcher runs.
package policy

import (
	"context"
	"fmt"

	"github.com/JakeFAU/pixelpage/internal/artifact"
	collyfetcher "github.com/JakeFAU/pixelpage/internal/fetcher/colly"
	"github.com/JakeFAU/pixelpage/internal/policy/blocklist"
	"github.com/JakeFAU/pixelpage/internal/policy/ratelimit"
)

// Config configures a Fetcher.
type Config struct {
	BlockedDomains []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Fetcher wraps another artifact.Fetcher with admission control.
type Fetcher struct {
	next    artifact.Fetcher
	blocked *blocklist.Blocklist
	limiter *ratelimit.Limiter
}

// NewFetcher returns next guarded by cfg.
func NewFetcher(next artifact.Fetcher, cfg Config) *Fetcher {
	return &Fetcher{
		next:    next,
		blocked: blocklist.New(cfg.BlockedDomains),
		limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimitRPS,
			DefaultBurst: cfg.RateLimitBurst,
		}),
	}
}

// Fetch refuses malformed URLs and blocked hosts with ErrInvalidURL, then
// waits for the host's rate limit before delegating. Waiting counts against ctx.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) (artifact.Markup, error) {
	u, err := collyfetcher.ValidateURL(sourceURL)
	if err != nil {
		return artifact.Markup{}, err
	}
	if f.blocked.IsBlocked(u.Hostname()) {
		return artifact.Markup{}, fmt.Errorf("%w: host %q is blocked", artifact.ErrInvalidURL, u.Hostname())
	}
	if err := f.limiter.Wait(ctx, u.String()); err != nil {
		return artifact.Markup{}, &artifact.FetchError{URL: sourceURL, Err: err}
	}
	return f.next.Fetch(ctx, sourceURL)
}
