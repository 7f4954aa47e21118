package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/BenjaminSRussell/siteaudit/internal/config"
	customhttp "github.com/BenjaminSRussell/siteaudit/internal/http"
	"github.com/BenjaminSRussell/siteaudit/internal/parser"
	"github.com/BenjaminSRussell/siteaudit/internal/progress"
	"github.com/BenjaminSRussell/siteaudit/internal/robots"
	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

// Crawler is the crawl engine. It drains a frontier in waves of at most
// Concurrency pages; all frontier, visited-set and counter updates happen on
// the goroutine that called Crawl. A Crawler runs one crawl at a time.
type Crawler struct {
	cfg     config.Config
	fetcher *customhttp.Fetcher
	logger  logrus.FieldLogger
	safe    *SafeProcessor
}

// pageOutcome is what a worker hands back to the crawl loop
type pageOutcome struct {
	result types.PageResult
	links  []string
}

// New creates a crawler from configuration
func New(cfg config.Config, logger logrus.FieldLogger) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		safe:    NewSafeProcessor(logger),
	}, nil
}

// Crawl traverses the target's origin breadth-first and sends every page
// result, plus a flush request after each wave, to out. out is closed when
// Crawl returns. Cancelling ctx stops new waves from starting; pages whose
// fetch was interrupted are not reported.
func (c *Crawler) Crawl(ctx context.Context, target types.CrawlTarget, out chan<- progress.Message) (_ *types.Results, err error) {
	defer func() {
		if err != nil {
			out <- progress.Message{Err: err}
		}
		close(out)
	}()

	seed, err := ValidateTarget(target.BaseURL)
	if err != nil {
		return nil, err
	}

	crawlID := uuid.NewString()
	log := c.logger.WithFields(logrus.Fields{
		"crawl_id": crawlID,
		"seed":     seed.String(),
	})

	if d := c.cfg.Crawl.MaxDuration.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	c.fetcher.SetRate(c.cfg.Crawl.RateLimit)
	policy := c.loadRobots(ctx, seed.Scheme+"://"+seed.Host, log)
	scope := NewScope(seed, policy, c.cfg.Crawl.ExcludedPrefixes, c.cfg.Crawl.ExcludedExtensions)

	frontier := NewFrontier()
	visited := NewVisitedSet(uint(c.cfg.Crawl.ExpectedPages))
	results := &types.Results{}

	visited.Add(seed.String())
	frontier.Push(types.FrontierItem{URL: seed.String(), Depth: 0})
	results.Discovered = 1

	log.WithField("concurrency", c.cfg.Crawl.Concurrency).Info("crawl started")

	for frontier.Len() > 0 {
		if ctx.Err() != nil {
			results.Cancelled = true
			break
		}

		wave := frontier.PopWave(c.cfg.Crawl.Concurrency)
		outcomes := c.runWave(ctx, wave, target)
		results.Waves++

		for i, outcome := range outcomes {
			if outcome == nil {
				continue
			}
			item := wave[i]

			results.Processed++
			if outcome.result.Failed() {
				results.Errors++
			}

			for _, link := range outcome.links {
				if c.cfg.Crawl.MaxDepth > 0 && item.Depth+1 > c.cfg.Crawl.MaxDepth {
					break
				}
				if !scope.InScope(link) {
					continue
				}
				normalized, err := parser.Normalize(link)
				if err != nil {
					log.WithError(err).Debug("skipping link")
					continue
				}
				if !visited.Add(normalized) {
					continue
				}
				frontier.Push(types.FrontierItem{URL: normalized, Depth: item.Depth + 1, Referrer: item.URL})
				results.Discovered++
			}

			result := outcome.result
			out <- progress.Message{
				Result: &result,
				Progress: types.Progress{
					URLsFound:     results.Discovered,
					URLsProcessed: results.Processed,
				},
			}
		}
		out <- progress.Message{Flush: true}

		log.WithFields(logrus.Fields{
			"wave":       results.Waves,
			"size":       len(wave),
			"discovered": results.Discovered,
			"processed":  results.Processed,
			"queued":     frontier.Len(),
		}).Debug("wave finished")
	}

	if ctx.Err() != nil {
		results.Cancelled = true
	}

	log.WithFields(logrus.Fields{
		"discovered": results.Discovered,
		"visited":    visited.Len(),
		"processed":  results.Processed,
		"errors":     results.Errors,
		"waves":      results.Waves,
		"cancelled":  results.Cancelled,
		"panics":     c.safe.PanicCount(),
		"elapsed":    time.Since(start).Round(time.Millisecond).String(),
	}).Info("crawl finished")

	return results, nil
}

// runWave processes one wave concurrently and returns outcomes in dispatch
// order. A nil outcome means the page was skipped or interrupted.
func (c *Crawler) runWave(ctx context.Context, wave []types.FrontierItem, target types.CrawlTarget) []*pageOutcome {
	outcomes := make([]*pageOutcome, len(wave))

	var g errgroup.Group
	g.SetLimit(c.cfg.Crawl.Concurrency)

	for i, item := range wave {
		if c.cfg.Crawl.MaxDepth > 0 && item.Depth > c.cfg.Crawl.MaxDepth {
			continue
		}
		g.Go(func() error {
			outcomes[i] = c.safe.Process(item, func() *pageOutcome {
				return c.processPage(ctx, item, target)
			})
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// processPage fetches and analyzes a single page
func (c *Crawler) processPage(ctx context.Context, item types.FrontierItem, target types.CrawlTarget) *pageOutcome {
	if ctx.Err() != nil {
		return nil
	}

	result := types.PageResult{
		URL:    item.URL,
		Origin: originOf(item),
		Depth:  item.Depth,
	}
	log := c.logger.WithField("url", item.URL)

	resp, err := c.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		if interrupted(ctx, err) {
			return nil
		}
		logTransportError(log, err)
		result.Error = err.Error()
		return &pageOutcome{result: result}
	}
	if resp.Attempts > 1 {
		log.WithFields(logrus.Fields{
			"attempts": resp.Attempts,
			"status":   resp.StatusCode,
		}).Debug("fetched after retries")
	}

	result.StatusCode = resp.StatusCode
	outcome := &pageOutcome{result: result}

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// recorded, not followed
		outcome.result.RedirectURL = resp.Location
		return outcome
	case resp.StatusCode != http.StatusOK:
		return outcome
	}

	if resp.BodyErr != nil {
		outcome.result.Error = resp.BodyErr.Error()
		return outcome
	}
	if !parser.IsHTML(resp.ContentType(), resp.Body) {
		return outcome
	}

	analysis, err := parser.Analyze(resp.Body, item.URL, parser.Options{
		CheckAltText: target.CheckAltText,
		SearchTerm:   target.SearchTerm,
	})
	if err != nil {
		outcome.result.Error = fmt.Sprintf("analyze page: %v", err)
		return outcome
	}
	for _, invalid := range analysis.Invalid {
		log.WithField("href", invalid).Debug("skipping invalid URL")
	}

	if len(analysis.ImagesWithoutAlt) > 0 {
		outcome.result.ImagesWithoutAlt = analysis.ImagesWithoutAlt
	}
	// a miss in a truncated body is unknown, not false
	if target.SearchTerm != "" && (analysis.ContainsSearchTerm || !resp.Truncated) {
		found := analysis.ContainsSearchTerm
		outcome.result.ContainsSearchTerm = &found
	}
	if resp.Truncated {
		log.WithField("max_body_bytes", c.cfg.Crawl.MaxBodyBytes).Debug("body truncated")
	}
	outcome.links = analysis.Links
	return outcome
}

// loadRobots fetches robots.txt once per crawl; failures mean no restrictions
func (c *Crawler) loadRobots(ctx context.Context, origin string, log logrus.FieldLogger) *robots.Policy {
	if c.cfg.Robots.Ignore {
		return nil
	}

	rctx := ctx
	if t := c.cfg.Robots.Timeout.Duration; t > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	policy, err := robots.Load(rctx, c.fetcher.Client(), origin, c.cfg.Crawl.UserAgent, c.cfg.Robots.Agent)
	if err != nil {
		log.WithError(err).Info("robots.txt unavailable, crawling without restrictions")
		return nil
	}

	if delay := policy.CrawlDelay(); delay > 0 && c.cfg.Robots.RespectCrawlDelay {
		perSecond := 1 / delay.Seconds()
		if c.cfg.Crawl.RateLimit == 0 || perSecond < c.cfg.Crawl.RateLimit {
			c.fetcher.SetRate(perSecond)
			log.WithField("crawl_delay", delay.String()).Info("honoring robots.txt crawl delay")
		}
	}
	return policy
}

// interrupted reports whether a fetch failed only because the crawl was
// cancelled; such pages are not reported.
func interrupted(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var te *customhttp.TransportError
	return errors.As(err, &te) && te.Canceled()
}

func logTransportError(log logrus.FieldLogger, err error) {
	var te *customhttp.TransportError
	if errors.As(err, &te) && te.Timeout() {
		log.WithError(err).Warn("fetch timed out")
		return
	}
	log.WithError(err).Debug("fetch failed")
}

func originOf(item types.FrontierItem) string {
	if item.Referrer == "" {
		return types.DirectAccess
	}
	return item.Referrer
}

