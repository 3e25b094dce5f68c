package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// Politeness defaults allow one request per host at a time, one second apart.
const (
	// DefaultMaxDepth limits how many links away from a seed the crawl may go.
	DefaultMaxDepth = 3

	// DefaultMaxPages is the page budget for a single crawl run.
	// Once this many URLs have been accepted into the frontier, further
	// discoveries are dropped and the crawl drains.
	DefaultMaxPages = 1000

	// DefaultWorkers is the number of concurrent fetch workers.
	DefaultWorkers = 8

	// DefaultPerHostConcurrency is the maximum number of in-flight requests
	// to a single host.
	DefaultPerHostConcurrency = 1

	// DefaultPerHostMinInterval is the minimum time between two dispatches to
	// the same host.
	DefaultPerHostMinInterval = 1 * time.Second

	// DefaultRequestTimeout bounds a single fetch attempt, not the whole
	// retry sequence of a URL.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt for
	// transient failures.
	DefaultMaxRetries = 3

	// DefaultBackoffBase is the delay before the first retry. Each further
	// retry doubles the delay.
	DefaultBackoffBase = 500 * time.Millisecond

	// DefaultBackoffMax caps the exponential backoff delay.
	DefaultBackoffMax = 30 * time.Second

	// DefaultCooldown429 is the host cooldown applied when a server answers
	// 429 Too Many Requests without a usable Retry-After header.
	DefaultCooldown429 = 10 * time.Second

	// DefaultMaxBodySize limits the response body size to read.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultMaxLinksPerPage limits how many links are taken from one page.
	DefaultMaxLinksPerPage = 500

	// DefaultMetaChunkSize is the number of page records per JSONL meta file.
	DefaultMetaChunkSize = 10

	// DefaultUserAgent identifies politecrawl in HTTP requests and is the
	// agent name matched against robots.txt groups.
	DefaultUserAgent = "politecrawl/1.0 (+https://github.com/nao1215/politecrawl)"

	// AppName is the application name used for XDG directory paths.
	AppName = "politecrawl"
)

// Config holds all configuration options for a crawl.
// It is populated from the configuration file and CLI flags and passed
// explicitly to every component; there is no global configuration state.
type Config struct {
	// MaxDepth is the maximum link depth from any seed. Seeds have depth 0.
	MaxDepth int

	// MaxPages is the total number of URLs the frontier accepts in one run.
	MaxPages int

	// Workers is the size of the fetch worker pool and therefore the upper
	// bound of concurrent in-flight requests across all hosts.
	Workers int

	// PerHostConcurrency bounds concurrent in-flight requests to one host.
	PerHostConcurrency int

	// PerHostMinInterval is the minimum gap between two dispatches to the
	// same host.
	PerHostMinInterval time.Duration

	// RequestTimeout bounds a single fetch attempt.
	RequestTimeout time.Duration

	// MaxRetries is the number of retries for transient failures.
	// The total number of attempts is MaxRetries + 1.
	MaxRetries int

	// BackoffBase is the first retry delay; it doubles on every retry.
	BackoffBase time.Duration

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration

	// Cooldown429 is the default host cooldown after a 429 response.
	Cooldown429 time.Duration

	// MaxDuration is the time budget of a run. Zero means unlimited.
	MaxDuration time.Duration

	// UserAgent is sent with every request and used for robots.txt matching.
	UserAgent string

	// TrackedQueryParams is the allow-list of query parameters kept during
	// URL normalization. Empty keeps every parameter except known tracking
	// parameters (utm_*, gclid, fbclid).
	TrackedQueryParams []string

	// Headers are extra HTTP headers sent with every request.
	Headers map[string]string

	// ProxyURL routes requests through an HTTP(S) or SOCKS5 proxy.
	ProxyURL string

	// MaxBodySize is the maximum response body size in bytes to read.
	// Set to 0 to use the default (5MB).
	MaxBodySize int64

	// MaxLinksPerPage limits links extracted from a single page.
	MaxLinksPerPage int

	// RespectRobots enables robots.txt checks before each fetch.
	RespectRobots bool

	// RespectNofollow skips links marked rel=nofollow and pages whose robots
	// meta tag says nofollow.
	RespectNofollow bool

	// SameSiteOnly restricts discovered links to the registrable domains of
	// the seeds.
	SameSiteOnly bool

	// GlobalRPS caps the request rate across all hosts. Zero disables it.
	GlobalRPS float64

	// Hosts contains per-host overrides loaded from the configuration file.
	// Keys are lower-case host names.
	Hosts map[string]HostConfig

	// Seeds are the start URLs given on the command line.
	Seeds []string

	// SitemapURL, when set, adds every sitemap entry to the seeds.
	SitemapURL string

	// Incremental skips sitemap entries whose stored fetch time is not older
	// than their lastmod. Requires the database.
	Incremental bool

	// Verbose enables debug logging.
	Verbose bool

	// LogFile, when set, additionally writes JSON logs to a rotating file.
	LogFile string

	// ConfigFilePath is the path to the configuration file. If empty, the
	// tool searches for .politecrawl in the current and home directories.
	ConfigFilePath string

	// SaveToDB stores crawl events in the SQLite database under DBDir.
	SaveToDB bool

	// DBDir is the directory of the SQLite database.
	// Defaults to the XDG data directory (~/.local/share/politecrawl on Linux).
	DBDir string

	// OutDir, when set, stores fetched pages as {id}.html files plus chunked
	// JSONL meta files under OutDir/meta.
	OutDir string

	// MetaChunkSize is the number of records per JSONL meta file.
	MetaChunkSize int

	// KafkaBroker and KafkaTopic publish every crawl event to Kafka when both
	// are set.
	KafkaBroker string
	KafkaTopic  string

	// RedisAddr publishes crawl progress to Redis when set.
	RedisAddr string

	// JSONReport prints the final summary as JSON.
	JSONReport bool

	// MarkdownReport prints the final summary as Markdown.
	MarkdownReport bool

	// ReportFile writes the summary to a file instead of stdout.
	ReportFile string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxDepth:           DefaultMaxDepth,
		MaxPages:           DefaultMaxPages,
		Workers:            DefaultWorkers,
		PerHostConcurrency: DefaultPerHostConcurrency,
		PerHostMinInterval: DefaultPerHostMinInterval,
		RequestTimeout:     DefaultRequestTimeout,
		MaxRetries:         DefaultMaxRetries,
		BackoffBase:        DefaultBackoffBase,
		BackoffMax:         DefaultBackoffMax,
		Cooldown429:        DefaultCooldown429,
		UserAgent:          DefaultUserAgent,
		MaxBodySize:        DefaultMaxBodySize,
		MaxLinksPerPage:    DefaultMaxLinksPerPage,
		RespectRobots:      true,
		RespectNofollow:    true,
		MetaChunkSize:      DefaultMetaChunkSize,
		Hosts:              make(map[string]HostConfig),
	}
}

// XDGDataDir returns the XDG data directory for politecrawl.
// On Linux: ~/.local/share/politecrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for politecrawl.
// On Linux: ~/.config/politecrawl
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found as one of the sentinel errors.
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}
	if c.MaxPages <= 0 {
		return ErrInvalidMaxPages
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.PerHostConcurrency <= 0 || c.PerHostConcurrency > c.Workers {
		return ErrInvalidPerHostConcurrency
	}
	if c.PerHostMinInterval < 0 {
		return ErrInvalidInterval
	}
	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxRetries < 0 {
		return ErrInvalidRetries
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return ErrInvalidBackoff
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.UserAgent == "" {
		return ErrInvalidUserAgent
	}
	if c.GlobalRPS < 0 {
		return ErrInvalidGlobalRPS
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	for _, hc := range c.Hosts {
		if hc.Concurrency < 0 || hc.Concurrency > c.Workers {
			return ErrInvalidPerHostConcurrency
		}
		if hc.MinInterval < 0 {
			return ErrInvalidInterval
		}
	}
	return nil
}

// HostPolicy returns the effective interval and concurrency for a host,
// applying the per-host override when one exists.
func (c *Config) HostPolicy(host string) (time.Duration, int) {
	interval := c.PerHostMinInterval
	concurrency := c.PerHostConcurrency
	if hc, ok := c.Hosts[host]; ok {
		if hc.MinInterval > 0 {
			interval = hc.MinInterval
		}
		if hc.Concurrency > 0 {
			concurrency = hc.Concurrency
		}
	}
	return interval, concurrency
}
