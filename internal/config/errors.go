package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and describe exactly which
// setting is out of range. Callers match them with errors.Is().
var (
	// ErrInvalidMaxDepth is returned when the maximum crawl depth is negative.
	// Depth 0 means only the seed pages are fetched.
	ErrInvalidMaxDepth = errors.New("invalid max depth: must be non-negative")

	// ErrInvalidMaxPages is returned when the page budget is not positive.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be positive")

	// ErrInvalidWorkers is returned when the worker pool size is not positive.
	ErrInvalidWorkers = errors.New("invalid worker count: must be positive")

	// ErrInvalidPerHostConcurrency is returned when the per-host cap is not
	// positive or exceeds the worker pool size.
	ErrInvalidPerHostConcurrency = errors.New("invalid per-host concurrency: must be between 1 and the worker count")

	// ErrInvalidInterval is returned when the per-host minimum interval is negative.
	ErrInvalidInterval = errors.New("invalid per-host interval: must be non-negative")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	// A zero timeout would fail every request immediately.
	ErrInvalidTimeout = errors.New("invalid request timeout: must be positive")

	// ErrInvalidRetries is returned when the retry count is negative.
	ErrInvalidRetries = errors.New("invalid max retries: must be non-negative")

	// ErrInvalidBackoff is returned when the backoff base is not positive or the
	// backoff cap is smaller than the base.
	ErrInvalidBackoff = errors.New("invalid backoff: base must be positive and not exceed the maximum")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	// Use 0 to apply the default limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidUserAgent is returned when the User-Agent is empty.
	// Polite crawlers always identify themselves.
	ErrInvalidUserAgent = errors.New("invalid user agent: must not be empty")

	// ErrInvalidGlobalRPS is returned when the global request rate is negative.
	ErrInvalidGlobalRPS = errors.New("invalid global rate: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
