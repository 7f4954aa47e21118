package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BenjaminSRussell/siteaudit/internal/storage"
)

// SitemapConfig holds export configuration
type SitemapConfig struct {
	DataDir         string
	OutputFile      string
	IncludeLastmod  bool
	Changefreq      string
	DefaultPriority float64

	// Lastmod is filled from the results file when IncludeLastmod is set
	Lastmod string
}

// ExportSitemap exports stored crawl results to an XML sitemap and returns
// the number of URLs written.
func ExportSitemap(config SitemapConfig) (int, error) {
	results, err := storage.LoadResults(config.DataDir)
	if err != nil {
		return 0, fmt.Errorf("failed to load results: %w", err)
	}

	if config.IncludeLastmod {
		config.Lastmod = lastmodOf(config.DataDir)
	}

	urlSet := BuildSitemap(results, config)

	content, err := marshalXML(urlSet)
	if err != nil {
		return 0, err
	}

	if dir := filepath.Dir(config.OutputFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(config.OutputFile, content, 0644); err != nil {
		return 0, fmt.Errorf("failed to write sitemap: %w", err)
	}

	return len(urlSet.URLs), nil
}

// lastmodOf uses the modification time of the stored results
func lastmodOf(dataDir string) string {
	info, err := os.Stat(filepath.Join(dataDir, "results.jsonl"))
	if err != nil {
		return time.Now().UTC().Format("2006-01-02")
	}
	return info.ModTime().UTC().Format("2006-01-02")
}
