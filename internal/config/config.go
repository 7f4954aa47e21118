package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is used for the XDG config lookup path.
	AppName = "siteaudit"

	// DefaultUserAgent is the fixed identity sent with every request.
	DefaultUserAgent = "SiteAuditBot/1.0 (+https://github.com/BenjaminSRussell/siteaudit)"

	// DefaultRobotsAgent is the product token matched against robots.txt groups.
	DefaultRobotsAgent = "SiteAuditBot"

	DefaultConcurrency    = 5
	DefaultRequestTimeout = 10 * time.Second
	DefaultRobotsTimeout  = 5 * time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = 2 * time.Second
	DefaultMaxBodyBytes   = 5 * 1024 * 1024
	DefaultExpectedPages  = 10_000
	DefaultAddr           = ":8080"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds everything needed to run crawls, the API server and the result sinks.
type Config struct {
	Crawl   CrawlConfig   `yaml:"crawl"`
	Robots  RobotsConfig  `yaml:"robots"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// CrawlConfig controls the frontier, the fetcher and the wave size.
type CrawlConfig struct {
	UserAgent      string   `yaml:"user_agent"`
	Concurrency    int      `yaml:"concurrency"`
	MaxDepth       int      `yaml:"max_depth"`
	RequestTimeout Duration `yaml:"request_timeout"`
	MaxAttempts    int      `yaml:"max_attempts"`
	RetryDelay     Duration `yaml:"retry_delay"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	// RateLimit is requests per second across the crawl; 0 disables throttling.
	RateLimit   float64  `yaml:"rate_limit"`
	BatchSize   int      `yaml:"batch_size"`
	MaxDuration Duration `yaml:"max_duration"`
	Cookies     bool     `yaml:"cookies"`

	// ExpectedPages sizes the visited-set prefilter; it is not a limit.
	ExpectedPages int `yaml:"expected_pages"`

	// Extra scope exclusions on top of the built-in /inventory and .php/.css/.js rules.
	ExcludedPrefixes   []string `yaml:"excluded_prefixes"`
	ExcludedExtensions []string `yaml:"excluded_extensions"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Ignore            bool     `yaml:"ignore"`
	Agent             string   `yaml:"agent"`
	Timeout           Duration `yaml:"timeout"`
	RespectCrawlDelay bool     `yaml:"respect_crawl_delay"`
}

// ServerConfig configures the streaming API.
type ServerConfig struct {
	Addr                 string `yaml:"addr"`
	CancelOnDisconnect   bool   `yaml:"cancel_on_disconnect"`
	CheckListConcurrency int    `yaml:"check_list_concurrency"`
}

// StorageConfig enables the optional result sinks.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			UserAgent:      DefaultUserAgent,
			Concurrency:    DefaultConcurrency,
			RequestTimeout: DurationFrom(DefaultRequestTimeout),
			MaxAttempts:    DefaultMaxAttempts,
			RetryDelay:     DurationFrom(DefaultRetryDelay),
			MaxBodyBytes:   DefaultMaxBodyBytes,
			ExpectedPages:  DefaultExpectedPages,
			Cookies:        true,
			ExcludedExtensions: []string{
				".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
				".pdf", ".zip", ".woff", ".woff2",
			},
		},
		Robots: RobotsConfig{
			Agent:             DefaultRobotsAgent,
			Timeout:           DurationFrom(DefaultRobotsTimeout),
			RespectCrawlDelay: true,
		},
		Server: ServerConfig{
			Addr:                 DefaultAddr,
			CancelOnDisconnect:   true,
			CheckListConcurrency: DefaultConcurrency,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path searches the XDG
// config directories for siteaudit/config.yaml and falls back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		found, err := xdg.SearchConfigFile(AppName + "/config.yaml")
		if err != nil {
			return cfg, nil
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks configuration bounds
func (c Config) Validate() error {
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalidConfig, c.Crawl.Concurrency)
	}
	if c.Crawl.Concurrency > 100 {
		return fmt.Errorf("%w: concurrency too high (max 100), got %d", ErrInvalidConfig, c.Crawl.Concurrency)
	}
	if c.Crawl.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.Crawl.MaxAttempts)
	}
	if c.Crawl.MaxAttempts > 10 {
		return fmt.Errorf("%w: max attempts too high (max 10), got %d", ErrInvalidConfig, c.Crawl.MaxAttempts)
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("%w: max depth cannot be negative, got %d", ErrInvalidConfig, c.Crawl.MaxDepth)
	}
	if c.Crawl.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("%w: request timeout must be positive, got %v", ErrInvalidConfig, c.Crawl.RequestTimeout)
	}
	if c.Crawl.RetryDelay.Duration < 0 || c.Crawl.MaxDuration.Duration < 0 {
		return fmt.Errorf("%w: durations cannot be negative", ErrInvalidConfig)
	}
	if c.Crawl.ExpectedPages < 0 {
		return fmt.Errorf("%w: expected pages cannot be negative, got %d", ErrInvalidConfig, c.Crawl.ExpectedPages)
	}
	if c.Crawl.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit cannot be negative, got %v", ErrInvalidConfig, c.Crawl.RateLimit)
	}
	if c.Crawl.BatchSize < 0 {
		return fmt.Errorf("%w: batch size cannot be negative, got %d", ErrInvalidConfig, c.Crawl.BatchSize)
	}
	if c.Crawl.UserAgent == "" {
		return fmt.Errorf("%w: user agent is required", ErrInvalidConfig)
	}
	return nil
}
