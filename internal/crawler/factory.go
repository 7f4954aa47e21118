package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/BenjaminSRussell/siteaudit/internal/config"
	customhttp "github.com/BenjaminSRussell/siteaudit/internal/http"
	"github.com/BenjaminSRussell/siteaudit/internal/parser"
)

// ErrInvalidTarget is returned when the seed URL is missing or unusable.
var ErrInvalidTarget = errors.New("invalid crawl target")

// ValidateTarget checks the seed URL before any work starts and returns it normalized.
func ValidateTarget(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: URL is required", ErrInvalidTarget)
	}

	normalized, err := parser.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	u, err := parser.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	return u, nil
}

// newFetcher builds the HTTP fetcher described by the crawl configuration
func newFetcher(cfg config.Config, logger logrus.FieldLogger) (*customhttp.Fetcher, error) {
	fetcher, err := customhttp.NewFetcher(customhttp.Options{
		UserAgent:    cfg.Crawl.UserAgent,
		Timeout:      cfg.Crawl.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
		Retry: customhttp.RetryPolicy{
			MaxAttempts: cfg.Crawl.MaxAttempts,
			Delay:       cfg.Crawl.RetryDelay.Duration,
		},
		RateLimit: cfg.Crawl.RateLimit,
		Cookies:   cfg.Crawl.Cookies,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}
	return fetcher, nil
}
