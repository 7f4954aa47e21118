package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenjaminSRussell/siteaudit/internal/config"
	"github.com/BenjaminSRussell/siteaudit/internal/logging"
	"github.com/BenjaminSRussell/siteaudit/internal/progress"
	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

// site is a fixture origin serving canned HTML pages and counting hits per path.
type site struct {
	*httptest.Server

	mu       sync.Mutex
	pages    map[string]string
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

func newSite(t *testing.T, pages map[string]string) *site {
	t.Helper()
	s := &site{
		pages:    pages,
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *site) handle(path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[path] = h
}

func (s *site) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	h, custom := s.handlers[r.URL.Path]
	body, ok := s.pages[r.URL.Path]
	s.mu.Unlock()

	if custom {
		h(w, r)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

func (s *site) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Crawl.RetryDelay = config.DurationFrom(5 * time.Millisecond)
	cfg.Crawl.RequestTimeout = config.DurationFrom(2 * time.Second)
	cfg.Robots.Timeout = config.DurationFrom(time.Second)
	return cfg
}

type crawlRun struct {
	results  *types.Results
	pages    []types.PageResult
	waves    [][]string
	messages []progress.Message
}

func (r crawlRun) byURL(url string) (types.PageResult, bool) {
	for _, p := range r.pages {
		if p.URL == url {
			return p, true
		}
	}
	return types.PageResult{}, false
}

func runCrawl(t *testing.T, ctx context.Context, cfg config.Config, target types.CrawlTarget) crawlRun {
	t.Helper()

	c, err := New(cfg, logging.Discard())
	require.NoError(t, err)

	out := make(chan progress.Message)
	var run crawlRun
	done := make(chan struct{})
	go func() {
		defer close(done)
		var current []string
		for msg := range out {
			run.messages = append(run.messages, msg)
			if msg.Result != nil {
				run.pages = append(run.pages, *msg.Result)
				current = append(current, msg.Result.URL)
			}
			if msg.Flush {
				run.waves = append(run.waves, current)
				current = nil
			}
		}
	}()

	results, err := c.Crawl(ctx, target, out)
	<-done
	require.NoError(t, err)
	run.results = results
	return run
}

func TestCrawlDedupsAndReportsMissingAlt(t *testing.T) {
	s := newSite(t, map[string]string{
		"/": `<html><body>
			<a href="/about">About</a>
			<a href="/about#x">About again</a>
			<img src="/a.png">
			<img src="/logo.png" alt="Logo">
		</body></html>`,
		"/about": `<html><body><a href="/">Home</a></body></html>`,
	})

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL, CheckAltText: true})

	require.Len(t, run.pages, 2)
	assert.Equal(t, 1, s.hitCount("/about"))
	assert.Equal(t, 1, s.hitCount("/"))

	home, ok := run.byURL(s.URL + "/")
	require.True(t, ok)
	assert.Equal(t, types.DirectAccess, home.Origin)
	assert.Equal(t, http.StatusOK, home.StatusCode)
	assert.Equal(t, []string{s.URL + "/a.png"}, home.ImagesWithoutAlt)
	assert.Nil(t, home.ContainsSearchTerm)

	about, ok := run.byURL(s.URL + "/about")
	require.True(t, ok)
	assert.Equal(t, s.URL+"/", about.Origin)
	assert.Empty(t, about.ImagesWithoutAlt)

	assert.Equal(t, 2, run.results.Discovered)
	assert.Equal(t, 2, run.results.Processed)
	assert.False(t, run.results.Cancelled)

	last := run.messages[len(run.messages)-2]
	require.NotNil(t, last.Result)
	assert.Equal(t, types.Progress{URLsFound: 2, URLsProcessed: 2}, last.Progress)
}

func TestCrawlBreadthFirstWaves(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":  `<a href="/a">a</a><a href="/b">b</a>`,
		"/a": `<a href="/c">c</a>`,
		"/b": `<a href="/a">a</a>`,
		"/c": `<p>leaf</p>`,
	})

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL})

	require.Len(t, run.waves, 3)
	assert.Equal(t, []string{s.URL + "/"}, run.waves[0])
	assert.Equal(t, []string{s.URL + "/a", s.URL + "/b"}, run.waves[1])
	assert.Equal(t, []string{s.URL + "/c"}, run.waves[2])
	assert.Equal(t, 3, run.results.Waves)

	c, _ := run.byURL(s.URL + "/c")
	assert.Equal(t, s.URL+"/a", c.Origin)
}

func TestCrawlWaveSizeBoundsConcurrency(t *testing.T) {
	pages := map[string]string{"/": ""}
	for i := 0; i < 5; i++ {
		pages["/"] += fmt.Sprintf(`<a href="/p%d">p</a>`, i)
	}
	s := newSite(t, pages)

	var inFlight, peak int32
	for i := 0; i < 5; i++ {
		s.handle(fmt.Sprintf("/p%d", i), func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<p>ok</p>"))
		})
	}

	cfg := testConfig()
	cfg.Crawl.Concurrency = 2
	run := runCrawl(t, context.Background(), cfg, types.CrawlTarget{BaseURL: s.URL})

	assert.Equal(t, 6, run.results.Processed)
	assert.Equal(t, 4, run.results.Waves)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	for _, wave := range run.waves {
		assert.LessOrEqual(t, len(wave), 2)
	}
}

func TestCrawlClientErrorContributesNoLinks(t *testing.T) {
	s := newSite(t, map[string]string{
		"/": `<a href="/missing">gone</a>`,
	})
	s.handle("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`<a href="/hidden">hidden</a>`))
	})

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL})

	missing, ok := run.byURL(s.URL + "/missing")
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, 1, s.hitCount("/missing"))
	assert.Zero(t, s.hitCount("/hidden"))
	assert.Equal(t, 2, run.results.Discovered)
	assert.Equal(t, 1, run.results.Errors)
}

func TestCrawlRetriesServerErrors(t *testing.T) {
	s := newSite(t, map[string]string{
		"/": `<a href="/flaky">flaky</a>`,
	})
	s.handle("/flaky", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL})

	assert.Equal(t, 3, s.hitCount("/flaky"))

	var flaky []types.PageResult
	for _, p := range run.pages {
		if p.URL == s.URL+"/flaky" {
			flaky = append(flaky, p)
		}
	}
	require.Len(t, flaky, 1)
	assert.Equal(t, http.StatusInternalServerError, flaky[0].StatusCode)
}

func TestCrawlScopeRejections(t *testing.T) {
	other := newSite(t, map[string]string{"/": "<p>elsewhere</p>"})
	s := newSite(t, map[string]string{
		"/": `
			<a href="` + other.URL + `/">other origin</a>
			<a href="/inventory/item">inventory</a>
			<a href="/style.css">css</a>
			<a href="/app.js">js</a>
			<a href="/index.php">php</a>
			<a href="/photo.PNG">image</a>
			<a href="/page?x=1">query</a>
			<a href="/page#frag">fragment</a>
			<a href="/page">page</a>`,
		"/page": "<p>ok</p>",
	})

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL})

	assert.Len(t, run.pages, 2)
	assert.Equal(t, 1, s.hitCount("/page"))
	for _, path := range []string{"/inventory/item", "/style.css", "/app.js", "/index.php", "/photo.PNG"} {
		assert.Zero(t, s.hitCount(path), path)
	}
	assert.Zero(t, other.hitCount("/"))
}

func TestCrawlRespectsRobots(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":       `<a href="/private/data">private</a><a href="/public">public</a>`,
		"/public": "<p>ok</p>",
	})
	s.handle("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL})

	assert.Zero(t, s.hitCount("/private/data"))
	assert.Equal(t, 1, s.hitCount("/public"))
	assert.Len(t, run.pages, 2)
}

func TestCrawlIgnoresRobotsWhenConfigured(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":        `<a href="/private">private</a>`,
		"/private": "<p>secret</p>",
	})
	s.handle("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /\n"))
	})

	cfg := testConfig()
	cfg.Robots.Ignore = true
	run := runCrawl(t, context.Background(), cfg, types.CrawlTarget{BaseURL: s.URL})

	assert.Zero(t, s.hitCount("/robots.txt"))
	assert.Len(t, run.pages, 2)
}

func TestCrawlRobotsUnavailableDoesNotBlock(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":  `<a href="/a">a</a>`,
		"/a": "<p>a</p>",
	})
	s.handle("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL})

	assert.Len(t, run.pages, 2)
	assert.Equal(t, 1, s.hitCount("/robots.txt"))
}

func TestCrawlSearchTerm(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":     `<p>Welcome</p><a href="/help">Help</a>`,
		"/help": `<p>Please Contact Us for support</p>`,
	})

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL, SearchTerm: "Contact Us"})

	home, _ := run.byURL(s.URL + "/")
	require.NotNil(t, home.ContainsSearchTerm)
	assert.False(t, *home.ContainsSearchTerm)

	help, _ := run.byURL(s.URL + "/help")
	require.NotNil(t, help.ContainsSearchTerm)
	assert.True(t, *help.ContainsSearchTerm)
}

func TestCrawlRecordsRedirects(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":    `<a href="/old">old</a>`,
		"/new": "<p>moved here</p>",
	})
	s.handle("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL})

	old, ok := run.byURL(s.URL + "/old")
	require.True(t, ok)
	assert.Equal(t, http.StatusMovedPermanently, old.StatusCode)
	assert.Equal(t, s.URL+"/new", old.RedirectURL)
	assert.Equal(t, s.URL+"/", old.Origin)

	// the target is only reachable through the redirect, so it is never fetched
	_, ok = run.byURL(s.URL + "/new")
	assert.False(t, ok)
	assert.Zero(t, s.hitCount("/new"))
	assert.Equal(t, 2, run.results.Discovered)
	assert.Equal(t, 2, run.results.Processed)
}

func TestCrawlSearchTermInTruncatedBody(t *testing.T) {
	filler := strings.Repeat("x", 4096)
	s := newSite(t, map[string]string{
		"/":     `<a href="/head">head</a><a href="/tail">tail</a>`,
		"/head": `<p>needle</p>` + filler,
		"/tail": `<p>` + filler + `needle</p>`,
	})

	cfg := testConfig()
	cfg.Crawl.MaxBodyBytes = 1024
	run := runCrawl(t, context.Background(), cfg, types.CrawlTarget{BaseURL: s.URL, SearchTerm: "needle"})

	head, ok := run.byURL(s.URL + "/head")
	require.True(t, ok)
	require.NotNil(t, head.ContainsSearchTerm)
	assert.True(t, *head.ContainsSearchTerm)

	// past the cap the answer is unknown
	tail, ok := run.byURL(s.URL + "/tail")
	require.True(t, ok)
	assert.Nil(t, tail.ContainsSearchTerm)

	home, _ := run.byURL(s.URL + "/")
	require.NotNil(t, home.ContainsSearchTerm)
	assert.False(t, *home.ContainsSearchTerm)
}

func TestCrawlMaxDepth(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":  `<a href="/a">a</a>`,
		"/a": `<a href="/b">b</a>`,
		"/b": `<p>too deep</p>`,
	})

	cfg := testConfig()
	cfg.Crawl.MaxDepth = 1
	run := runCrawl(t, context.Background(), cfg, types.CrawlTarget{BaseURL: s.URL})

	assert.Len(t, run.pages, 2)
	assert.Zero(t, s.hitCount("/b"))
	assert.Equal(t, 2, run.results.Discovered)
}

func TestCrawlProcessesEachURLOnce(t *testing.T) {
	pages := make(map[string]string)
	for i := 0; i < 12; i++ {
		body := `<a href="/">home</a>`
		for j := 0; j < 12; j++ {
			body += fmt.Sprintf(`<a href="/n%d">n</a><a href="/N%d/../n%d">dup</a>`, j, j, j)
		}
		pages[fmt.Sprintf("/n%d", i)] = body
	}
	pages["/"] = pages["/n0"]
	s := newSite(t, pages)

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL})

	seen := make(map[string]int)
	for _, p := range run.pages {
		seen[p.URL]++
	}
	for url, n := range seen {
		assert.Equal(t, 1, n, url)
	}

	for path := range pages {
		assert.Equal(t, 1, s.hitCount(path), path)
	}

	assert.Equal(t, len(pages), run.results.Processed)
	assert.Equal(t, run.results.Discovered, run.results.Processed)
}

func TestCrawlNonHTMLIsNotAnalyzed(t *testing.T) {
	s := newSite(t, map[string]string{
		"/": `<a href="/data">data</a>`,
	})
	s.handle("/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"html": "<a href=\"/secret\">x</a>"}`))
	})

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: s.URL})

	assert.Len(t, run.pages, 2)
	assert.Zero(t, s.hitCount("/secret"))
}

func TestCrawlTransportErrorIsRecorded(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	run := runCrawl(t, context.Background(), testConfig(), types.CrawlTarget{BaseURL: deadURL})

	require.Len(t, run.pages, 1)
	assert.Zero(t, run.pages[0].StatusCode)
	assert.NotEmpty(t, run.pages[0].Error)
	assert.Equal(t, 1, run.results.Errors)
}

func TestCrawlCancelled(t *testing.T) {
	s := newSite(t, map[string]string{
		"/": `<a href="/a">a</a>`,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := runCrawl(t, ctx, testConfig(), types.CrawlTarget{BaseURL: s.URL})

	assert.True(t, run.results.Cancelled)
	assert.Empty(t, run.pages)
	assert.Zero(t, s.hitCount("/a"))
}

func TestCrawlStopsAfterCancelMidCrawl(t *testing.T) {
	s := newSite(t, map[string]string{
		"/":  `<a href="/a">a</a>`,
		"/a": `<a href="/b">b</a>`,
		"/b": `<p>b</p>`,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.handle("/a", func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	})

	run := runCrawl(t, ctx, testConfig(), types.CrawlTarget{BaseURL: s.URL})

	assert.True(t, run.results.Cancelled)
	assert.Len(t, run.pages, 1)
	assert.Zero(t, s.hitCount("/b"))
}

func TestCrawlInvalidTarget(t *testing.T) {
	c, err := New(testConfig(), logging.Discard())
	require.NoError(t, err)

	for _, raw := range []string{"", "   ", "not a url", "ftp://example.com/"} {
		out := make(chan progress.Message, 1)
		_, err := c.Crawl(context.Background(), types.CrawlTarget{BaseURL: raw}, out)
		assert.ErrorIs(t, err, ErrInvalidTarget, raw)

		msg := <-out
		assert.ErrorIs(t, msg.Err, ErrInvalidTarget, raw)

		_, open := <-out
		assert.False(t, open, "output channel must be closed")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Crawl.Concurrency = 0

	_, err := New(cfg, logging.Discard())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
