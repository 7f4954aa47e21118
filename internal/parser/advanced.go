package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Options selects the optional audits run by Analyze
type Options struct {
	CheckAltText bool
	SearchTerm   string
}

// Analysis is what a fetched HTML page yields for the crawl
type Analysis struct {
	// Links are absolute anchor targets in document order, fragment and query intact.
	Links []string
	// ImagesWithoutAlt are absolute src values of images missing usable alt text.
	ImagesWithoutAlt []string
	// ContainsSearchTerm is only meaningful when Options.SearchTerm is set.
	ContainsSearchTerm bool
	// Invalid collects hrefs and srcs that could not be resolved.
	Invalid []string
}

// Analyze extracts links, alt-text problems and search term containment from an HTML body.
func Analyze(body []byte, pageURL string, opts Options) (*Analysis, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, pageURL, err)
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	analysis := &Analysis{
		Links: make([]string, 0),
	}
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if skipHref(href) {
			return
		}
		link, err := Resolve(base, href)
		if err != nil {
			analysis.Invalid = append(analysis.Invalid, href)
			return
		}
		if !seen[link] {
			analysis.Links = append(analysis.Links, link)
			seen[link] = true
		}
	})

	if opts.CheckAltText {
		doc.Find("img").Each(func(i int, s *goquery.Selection) {
			alt, ok := s.Attr("alt")
			if ok && strings.TrimSpace(alt) != "" {
				return
			}
			src, _ := s.Attr("src")
			if strings.TrimSpace(src) == "" {
				return
			}
			img, err := Resolve(base, src)
			if err != nil {
				analysis.Invalid = append(analysis.Invalid, src)
				return
			}
			analysis.ImagesWithoutAlt = append(analysis.ImagesWithoutAlt, img)
		})
	}

	if opts.SearchTerm != "" {
		analysis.ContainsSearchTerm = bytes.Contains(body, []byte(opts.SearchTerm))
	}

	return analysis, nil
}

// skipHref filters anchors that can never point at a crawlable page
func skipHref(href string) bool {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	return href == "" ||
		strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:")
}
