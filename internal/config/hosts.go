package config

import (
	"strings"
	"time"
)

// HostConfig holds per-host politeness and scope overrides.
type HostConfig struct {
	// MinInterval overrides PerHostMinInterval for this host.
	MinInterval time.Duration `yaml:"interval,omitempty"`

	// Concurrency overrides PerHostConcurrency for this host.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Headers are extra HTTP headers sent only to this host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// IgnorePatterns are URL path globs that are never enqueued for this host.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns, when set, are the only URL path globs enqueued for
	// this host.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`
}

// Defaults mirrors the crawl-wide settings that may be set in the
// configuration file. Zero values leave the built-in defaults untouched.
type Defaults struct {
	MaxDepth           *int              `yaml:"maxDepth,omitempty"`
	MaxPages           int               `yaml:"maxPages,omitempty"`
	Workers            int               `yaml:"workers,omitempty"`
	PerHostConcurrency int               `yaml:"perHostConcurrency,omitempty"`
	PerHostMinInterval time.Duration     `yaml:"perHostInterval,omitempty"`
	RequestTimeout     time.Duration     `yaml:"requestTimeout,omitempty"`
	MaxRetries         *int              `yaml:"maxRetries,omitempty"`
	UserAgent          string            `yaml:"userAgent,omitempty"`
	TrackedQueryParams []string          `yaml:"trackedQueryParams,omitempty"`
	Headers            map[string]string `yaml:"headers,omitempty"`
	RespectRobots      *bool             `yaml:"respectRobots,omitempty"`
	RespectNofollow    *bool             `yaml:"respectNofollow,omitempty"`
	SameSiteOnly       *bool             `yaml:"sameSiteOnly,omitempty"`
	MaxLinksPerPage    int               `yaml:"maxLinksPerPage,omitempty"`
	GlobalRPS          float64           `yaml:"globalRPS,omitempty"`
}

// File represents the structure of the .politecrawl configuration file.
type File struct {
	// Defaults contains crawl-wide settings.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Hosts maps host names to their overrides.
	Hosts map[string]HostConfig `yaml:"hosts,omitempty"`
}

// Apply copies the file settings into cfg. Values already present in the
// file take precedence over built-in defaults; CLI flags are applied after
// Apply and therefore win over both.
func (f *File) Apply(cfg *Config) {
	d := f.Defaults
	if d.MaxDepth != nil {
		cfg.MaxDepth = *d.MaxDepth
	}
	if d.MaxPages > 0 {
		cfg.MaxPages = d.MaxPages
	}
	if d.Workers > 0 {
		cfg.Workers = d.Workers
	}
	if d.PerHostConcurrency > 0 {
		cfg.PerHostConcurrency = d.PerHostConcurrency
	}
	if d.PerHostMinInterval > 0 {
		cfg.PerHostMinInterval = d.PerHostMinInterval
	}
	if d.RequestTimeout > 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}
	if d.MaxRetries != nil {
		cfg.MaxRetries = *d.MaxRetries
	}
	if d.UserAgent != "" {
		cfg.UserAgent = d.UserAgent
	}
	if len(d.TrackedQueryParams) > 0 {
		cfg.TrackedQueryParams = d.TrackedQueryParams
	}
	if len(d.Headers) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(d.Headers))
		}
		for k, v := range d.Headers {
			cfg.Headers[k] = v
		}
	}
	if d.RespectRobots != nil {
		cfg.RespectRobots = *d.RespectRobots
	}
	if d.RespectNofollow != nil {
		cfg.RespectNofollow = *d.RespectNofollow
	}
	if d.MaxLinksPerPage > 0 {
		cfg.MaxLinksPerPage = d.MaxLinksPerPage
	}
	if d.GlobalRPS > 0 {
		cfg.GlobalRPS = d.GlobalRPS
	}
	if d.SameSiteOnly != nil {
		cfg.SameSiteOnly = *d.SameSiteOnly
	}

	if cfg.Hosts == nil {
		cfg.Hosts = make(map[string]HostConfig, len(f.Hosts))
	}
	for host, hc := range f.Hosts {
		cfg.Hosts[strings.ToLower(strings.TrimSpace(host))] = hc
	}
}
