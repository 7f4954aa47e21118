package http

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	Retry        RetryPolicy
	// RateLimit is requests per second shared by all workers; 0 means unthrottled.
	RateLimit float64
	Cookies   bool
	Logger    logrus.FieldLogger
}

// Response is an HTTP response of any status. Redirects are not followed:
// a 3xx comes back as data with its Location resolved against the request URL.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	// Body is only read for 200 responses.
	Body      []byte
	Truncated bool
	// BodyErr is set when a 200 body could not be read or decoded.
	BodyErr  error
	Location string
	Attempts int
}

// ContentType returns the Content-Type header.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Fetcher issues GET requests with a fixed identity, no redirect following
// and a fixed-delay retry for 5xx responses.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	retry        RetryPolicy
	limiter      *rate.Limiter
	logger       logrus.FieldLogger
}

// NewFetcher constructs a fetcher using the provided options.
func NewFetcher(opts Options) (*Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 * 1024 * 1024
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		opts.Logger = discard
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	if opts.Cookies {
		jar, err := cookiejar.New(&cookiejar.Options{
			PublicSuffixList: publicsuffix.List,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		client.Jar = jar
	}

	f := &Fetcher{
		client:       client,
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
		retry:        opts.Retry,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		logger:       opts.Logger,
	}
	f.SetRate(opts.RateLimit)
	return f, nil
}

// Client exposes the underlying client so robots.txt is fetched with the same identity and transport.
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// SetRate changes the shared request rate. Zero or negative removes the limit.
func (f *Fetcher) SetRate(perSecond float64) {
	if perSecond <= 0 || math.IsInf(perSecond, 1) {
		f.limiter.SetLimit(rate.Inf)
		return
	}
	f.limiter.SetLimit(rate.Limit(perSecond))
}

// Fetch downloads rawURL. It returns a *Response for any HTTP status, or a
// *TransportError when no response was obtained. 5xx responses are retried
// up to the policy cap; the last one is returned.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	for attempt := 1; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{URL: rawURL, Err: err, Attempts: attempt}
		}

		resp, err := f.do(ctx, rawURL)
		if err != nil {
			return nil, &TransportError{URL: rawURL, Err: err, Attempts: attempt}
		}
		resp.Attempts = attempt

		if !f.retry.ShouldRetry(resp.StatusCode, attempt) {
			return resp, nil
		}

		f.logger.WithFields(logrus.Fields{
			"url":     rawURL,
			"status":  resp.StatusCode,
			"attempt": attempt,
		}).Debug("server error, retrying")

		if err := f.retry.Wait(ctx); err != nil {
			return nil, &TransportError{URL: rawURL, Err: err, Attempts: attempt}
		}
	}
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}

	if loc, err := resp.Location(); err == nil {
		out.Location = loc.String()
	} else if raw := resp.Header.Get("Location"); raw != "" {
		out.Location = raw
	}

	if resp.StatusCode != http.StatusOK {
		// drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return out, nil
	}

	out.Body, out.Truncated, out.BodyErr = f.readBody(resp)
	return out, nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, bool, error) {
	reader := io.Reader(resp.Body)

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return body[:f.maxBodyBytes], true, nil
	}
	return body, false, nil
}
