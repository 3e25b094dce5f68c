package report

import (
	"cmp"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/politecrawl/internal/crawler"
)

// maxFailuresListed caps the failures kept in a Summary.
const maxFailuresListed = 50

// Summary describes one finished crawl.
type Summary struct {
	RunID      string    `json:"run_id"`
	Seeds      []string  `json:"seeds"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Duration and Reason come from the CrawlFinished event.
	Duration time.Duration `json:"duration_ns"`
	Reason   string        `json:"reason"`

	TotalFetched    int   `json:"total_fetched"`
	TotalFailed     int   `json:"total_failed"`
	TotalDisallowed int   `json:"total_disallowed"`
	TotalDiscarded  int   `json:"total_discarded"`
	TotalBytes      int64 `json:"total_bytes"`

	// Retried counts URLs that needed more than one attempt.
	Retried int `json:"retried"`

	// MaxDepth is the deepest level reached.
	MaxDepth int `json:"max_depth"`

	// AvgElapsed is the mean fetch time of successful pages.
	AvgElapsed time.Duration `json:"avg_elapsed_ns"`

	StatusCodes  map[int]int    `json:"status_codes,omitempty"`
	ContentTypes map[string]int `json:"content_types,omitempty"`

	// Hosts is sorted by pages fetched, most first.
	Hosts []HostSummary `json:"hosts,omitempty"`

	// Failures holds the first failures in arrival order.
	Failures []Failure `json:"failures,omitempty"`

	Completed bool `json:"completed"`
}

// HostSummary is the per-host part of a Summary.
type HostSummary struct {
	Host    string `json:"host"`
	Fetched int    `json:"fetched"`
	Failed  int    `json:"failed"`
	Bytes   int64  `json:"bytes"`
}

// Failure is one failed URL.
type Failure struct {
	URL      string `json:"url"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// SuccessRate returns the share of processed URLs that were fetched, in
// percent. It is 0 when nothing was processed.
func (s *Summary) SuccessRate() float64 {
	total := s.TotalFetched + s.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(s.TotalFetched) * 100 / float64(total)
}

// StatusClasses groups StatusCodes into "2xx", "3xx" and so on.
func (s *Summary) StatusClasses() map[string]int {
	classes := make(map[string]int)
	for code, n := range s.StatusCodes {
		if code <= 0 {
			classes["none"] += n
			continue
		}
		classes[strconv.Itoa(code/100)+"xx"] += n
	}
	return classes
}

// Collector builds a Summary from crawl events. It is not safe for
// concurrent use; Observe is meant to be called from the goroutine that
// reads the event stream.
type Collector struct {
	summary Summary
	hosts   map[string]*HostSummary
	elapsed time.Duration
	now     func() time.Time
}

// NewCollector starts a summary for a run.
func NewCollector(runID string, seeds []string, startedAt time.Time) *Collector {
	return &Collector{
		summary: Summary{
			RunID:        runID,
			Seeds:        slices.Clone(seeds),
			StartedAt:    startedAt,
			StatusCodes:  make(map[int]int),
			ContentTypes: make(map[string]int),
		},
		hosts: make(map[string]*HostSummary),
		now:   time.Now,
	}
}

// Observe records one event.
func (c *Collector) Observe(ev crawler.Event) {
	s := &c.summary
	switch e := ev.(type) {
	case crawler.PageFetched:
		h := c.host(e.URL)
		h.Fetched++
		h.Bytes += int64(e.ByteSize)
		s.TotalBytes += int64(e.ByteSize)
		s.StatusCodes[e.StatusCode]++
		s.ContentTypes[mediaType(e.ContentType)]++
		s.MaxDepth = max(s.MaxDepth, e.Depth)
		if e.Attempts > 1 {
			s.Retried++
		}
		c.elapsed += e.Elapsed
		s.TotalFetched++

	case crawler.FetchFailed:
		c.host(e.URL).Failed++
		if e.StatusCode > 0 {
			s.StatusCodes[e.StatusCode]++
		}
		if e.Attempts > 1 {
			s.Retried++
		}
		if len(s.Failures) < maxFailuresListed {
			s.Failures = append(s.Failures, Failure{URL: e.URL, Reason: e.Reason, Attempts: e.Attempts})
		}
		s.TotalFailed++

	case crawler.CrawlFinished:
		s.TotalFetched = e.TotalFetched
		s.TotalFailed = e.TotalFailed
		s.TotalDisallowed = e.TotalDisallowed
		s.TotalDiscarded = e.TotalDiscarded
		s.Duration = e.Duration
		s.Reason = string(e.Reason)
		s.FinishedAt = c.now()
		s.Completed = true
	}
}

// Summary returns a copy of the summary built so far.
func (c *Collector) Summary() *Summary {
	out := c.summary
	out.Seeds = slices.Clone(c.summary.Seeds)
	out.StatusCodes = maps.Clone(c.summary.StatusCodes)
	out.ContentTypes = maps.Clone(c.summary.ContentTypes)
	out.Failures = slices.Clone(c.summary.Failures)
	if fetched := c.pagesSeen(); fetched > 0 {
		out.AvgElapsed = c.elapsed / time.Duration(fetched)
	}

	out.Hosts = make([]HostSummary, 0, len(c.hosts))
	for _, h := range c.hosts {
		out.Hosts = append(out.Hosts, *h)
	}
	slices.SortFunc(out.Hosts, func(a, b HostSummary) int {
		return cmp.Or(cmp.Compare(b.Fetched, a.Fetched), strings.Compare(a.Host, b.Host))
	})
	return &out
}

func (c *Collector) pagesSeen() int {
	n := 0
	for _, h := range c.hosts {
		n += h.Fetched
	}
	return n
}

func (c *Collector) host(rawURL string) *HostSummary {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		name = u.Host
	}
	h, ok := c.hosts[name]
	if !ok {
		h = &HostSummary{Host: name}
		c.hosts[name] = h
	}
	return h
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" {
		return "unknown"
	}
	return mt
}
