package export

import (
	"encoding/xml"
	"fmt"

	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

const sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// maxSitemapURLs is the protocol limit for a single sitemap file
const maxSitemapURLs = 50000

// URLSet represents the XML sitemap structure
type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	XMLNS   string   `xml:"xmlns,attr"`
	URLs    []URL    `xml:"url"`
}

// URL represents a single URL in the sitemap
type URL struct {
	Loc        string  `xml:"loc"`
	Lastmod    string  `xml:"lastmod,omitempty"`
	Changefreq string  `xml:"changefreq,omitempty"`
	Priority   float64 `xml:"priority,omitempty"`
}

// BuildSitemap keeps only pages that answered 200 without error, each once,
// in crawl order. The seed page gets priority 1.0.
func BuildSitemap(results []types.PageResult, config SitemapConfig) URLSet {
	urlSet := URLSet{
		XMLNS: sitemapNamespace,
		URLs:  make([]URL, 0),
	}
	seen := make(map[string]bool)

	for _, result := range results {
		if result.StatusCode != 200 || result.Error != "" || seen[result.URL] {
			continue
		}
		seen[result.URL] = true

		u := URL{
			Loc:        result.URL,
			Lastmod:    config.Lastmod,
			Changefreq: config.Changefreq,
			Priority:   config.DefaultPriority,
		}
		if result.Origin == types.DirectAccess {
			u.Priority = 1.0
		}
		urlSet.URLs = append(urlSet.URLs, u)

		if len(urlSet.URLs) == maxSitemapURLs {
			break
		}
	}

	return urlSet
}

func marshalXML(urlSet URLSet) ([]byte, error) {
	output, err := xml.MarshalIndent(urlSet, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal XML: %w", err)
	}
	return append([]byte(xml.Header), output...), nil
}
