package crawler

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/BenjaminSRussell/siteaudit/internal/parser"
	"github.com/BenjaminSRussell/siteaudit/internal/progress"
	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

// CheckURLs fetches every listed URL once, without traversal or scope
// filtering, and streams one result per URL to out in completion order.
// out is closed when all checks are done.
func (c *Crawler) CheckURLs(ctx context.Context, urls []string, concurrency int, out chan<- progress.Message) *types.Results {
	defer close(out)

	if concurrency <= 0 {
		concurrency = c.cfg.Crawl.Concurrency
	}

	results := &types.Results{Discovered: len(urls)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, raw := range urls {
		if ctx.Err() != nil {
			break
		}
		item := types.FrontierItem{URL: raw}
		g.Go(func() error {
			outcome := c.safe.Process(item, func() *pageOutcome {
				return c.checkOne(ctx, raw)
			})
			if outcome == nil {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			results.Processed++
			if outcome.result.Failed() {
				results.Errors++
			}
			result := outcome.result
			out <- progress.Message{
				Result: &result,
				Progress: types.Progress{
					URLsFound:     results.Discovered,
					URLsProcessed: results.Processed,
				},
			}
			return nil
		})
	}
	_ = g.Wait()

	results.Cancelled = ctx.Err() != nil
	return results
}

func (c *Crawler) checkOne(ctx context.Context, raw string) *pageOutcome {
	result := types.PageResult{URL: raw, Origin: types.DirectAccess}

	u, err := parser.Parse(raw)
	if err != nil {
		result.Error = err.Error()
		return &pageOutcome{result: result}
	}
	result.URL = u.String()

	resp, err := c.fetcher.Fetch(ctx, result.URL)
	if err != nil {
		if interrupted(ctx, err) {
			return nil
		}
		logTransportError(c.logger.WithField("url", result.URL), err)
		result.Error = err.Error()
		return &pageOutcome{result: result}
	}

	result.StatusCode = resp.StatusCode
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		result.RedirectURL = resp.Location
	}
	if resp.StatusCode == http.StatusOK && resp.BodyErr != nil {
		result.Error = resp.BodyErr.Error()
	}
	return &pageOutcome{result: result}
}
