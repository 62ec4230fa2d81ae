package harvest

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/feedward/feedward/app/webfeed"
)

// defaultRetryAfter is assumed when an overloading host does not say how
// long to back off.
const defaultRetryAfter = 5 * time.Minute

// Response is the raw result of one bounded HTTP fetch.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher executes HTTP fetches with a bounded connect timeout, a bounded
// total time-to-live and a capped redirect count. Rate-limiting responses
// are surfaced as HostOverloadedError.
type Fetcher struct {
	client       *http.Client
	ttl          time.Duration
	userAgent    string
	prerenderURL string
}

type FetcherOptions struct {
	ConnectTimeout time.Duration
	TTL            time.Duration
	MaxRedirects   int
	UserAgent      string
	PrerenderURL   string
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   opts.ConnectTimeout,
			ResponseHeaderTimeout: opts.TTL,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", opts.MaxRedirects)
			}
			return nil
		},
	}

	return &Fetcher{
		client:       client,
		ttl:          opts.TTL,
		userAgent:    opts.UserAgent,
		prerenderURL: opts.PrerenderURL,
	}
}

// Run fetches the target described by opts. When prerendering is requested
// and a prerender service is configured, the fetch goes through that
// collaborator and returns the rendered HTML.
func (f *Fetcher) Run(ctx context.Context, opts webfeed.FetchOptions, expectedStatus int) (*Response, error) {
	target := opts.WebsiteURL
	if opts.Prerender && f.prerenderURL != "" {
		target = f.prerenderTarget(opts)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.ttl)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != "") {
		return nil, &HostOverloadedError{
			URL:        target,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if resp.StatusCode != expectedStatus {
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: target, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return &Response{
		URL:         opts.WebsiteURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (f *Fetcher) prerenderTarget(opts webfeed.FetchOptions) string {
	params := url.Values{}
	params.Set("url", opts.WebsiteURL)
	if opts.PrerenderWaitUntil != "" {
		params.Set("waitUntil", opts.PrerenderWaitUntil)
	}
	if opts.PrerenderScript != "" {
		params.Set("script", opts.PrerenderScript)
	}
	return f.prerenderURL + "/prerender?" + params.Encode()
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return defaultRetryAfter
}
