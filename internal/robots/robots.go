package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// maxRobotsBytes caps how much of robots.txt is read.
const maxRobotsBytes = 512 * 1024

// Policy is the parsed robots.txt of one origin. A nil *Policy is the absent
// policy and allows everything. Policies are read-only after Load and safe
// for concurrent use.
type Policy struct {
	agent string
	data  *robotstxt.RobotsData
	group *robotstxt.Group
}

// Load fetches {origin}/robots.txt. Any failure (network error, non-200
// status, unreadable body or parse error) yields the absent policy together
// with the reason, which callers are expected to log and otherwise ignore.
func Load(ctx context.Context, client *http.Client, origin, userAgent, agent string) (*Policy, error) {
	robotsURL := origin + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}

	return Parse(body, agent)
}

// Parse builds a policy from robots.txt contents for the given product token.
func Parse(body []byte, agent string) (*Policy, error) {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return &Policy{
		agent: agent,
		data:  data,
		group: data.FindGroup(agent),
	}, nil
}

// Allowed reports whether u may be fetched.
func (p *Policy) Allowed(u *url.URL) bool {
	if p == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return p.data.TestAgent(path, p.agent)
}

// CrawlDelay returns the Crawl-delay declared for our agent, zero when unset.
func (p *Policy) CrawlDelay() time.Duration {
	if p == nil || p.group == nil {
		return 0
	}
	return p.group.CrawlDelay
}
