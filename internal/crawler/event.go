package crawler

import (
	"time"

	"github.com/nao1215/politecrawl/internal/fetcher"
)

// Event is an item of the crawl event stream. It is one of PageFetched,
// FetchFailed or CrawlFinished.
type Event interface {
	crawlEvent()
}

// PageFetched reports a successful fetch.
type PageFetched struct {
	// URL is the canonical URL that was requested.
	URL string

	// FinalURL is the URL after redirects.
	FinalURL string

	// StatusCode is the HTTP status code.
	StatusCode int

	// ByteSize is the length of the decoded body.
	ByteSize int

	// Elapsed covers every attempt and the backoff waits between them.
	Elapsed time.Duration

	// Depth is the link distance from the seed.
	Depth int

	// Attempts is the number of requests sent.
	Attempts int

	// ContentType is the response Content-Type.
	ContentType string

	// Body is the decoded response body. It must not be modified.
	Body []byte

	// Source is the page the URL was found on; empty for seeds.
	Source string

	// FetchedAt is when the fetch finished.
	FetchedAt time.Time

	// Links is the number of new URLs accepted from this page.
	Links int
}

// FetchFailed reports a URL that could not be fetched.
type FetchFailed struct {
	URL string

	// Reason is a short human-readable cause.
	Reason string

	// Attempts is 0 for URLs rejected before any request.
	Attempts int

	Depth      int
	StatusCode int
	Kind       fetcher.Kind

	// Err is the underlying error.
	Err error

	FailedAt time.Time
}

// FinishReason tells why a crawl stopped.
type FinishReason string

const (
	// ReasonExhausted means no work was left.
	ReasonExhausted FinishReason = "exhausted"
	// ReasonPageBudget means the page budget was used up and every
	// accepted page was processed.
	ReasonPageBudget FinishReason = "page budget reached"
	// ReasonTimeBudget means MaxDuration elapsed.
	ReasonTimeBudget FinishReason = "time budget reached"
	// ReasonCanceled means the context was canceled.
	ReasonCanceled FinishReason = "canceled"
)

// CrawlFinished is the last event of every crawl.
type CrawlFinished struct {
	TotalFetched int
	TotalFailed  int

	// TotalDisallowed counts URLs skipped by robots.txt.
	TotalDisallowed int

	// TotalDiscarded counts queued URLs dropped when draining began.
	TotalDiscarded int

	Duration time.Duration
	Reason   FinishReason
}

func (PageFetched) crawlEvent()   {}
func (FetchFailed) crawlEvent()   {}
func (CrawlFinished) crawlEvent() {}
