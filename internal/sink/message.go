package sink

import (
	"time"

	"github.com/nao1215/politecrawl/internal/crawler"
)

// Message types.
const (
	TypePageFetched   = "page_fetched"
	TypeFetchFailed   = "fetch_failed"
	TypeCrawlFinished = "crawl_finished"
)

// Message is the JSON form of an event. Page bodies are not included.
type Message struct {
	Type  string `json:"type"`
	RunID string `json:"run_id"`

	URL         string    `json:"url,omitempty"`
	FinalURL    string    `json:"final_url,omitempty"`
	StatusCode  int       `json:"status_code,omitempty"`
	ByteSize    int       `json:"byte_size,omitempty"`
	ElapsedMS   int64     `json:"elapsed_ms,omitempty"`
	Depth       int       `json:"depth"`
	Attempts    int       `json:"attempts,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Source      string    `json:"source,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`

	TotalFetched    int   `json:"total_fetched,omitempty"`
	TotalFailed     int   `json:"total_failed,omitempty"`
	TotalDisallowed int   `json:"total_disallowed,omitempty"`
	DurationMS      int64 `json:"duration_ms,omitempty"`
}

// NewMessage converts ev. The boolean is false for unknown event types.
func NewMessage(runID string, ev crawler.Event, now time.Time) (Message, bool) {
	switch e := ev.(type) {
	case crawler.PageFetched:
		return Message{
			Type:        TypePageFetched,
			RunID:       runID,
			URL:         e.URL,
			FinalURL:    e.FinalURL,
			StatusCode:  e.StatusCode,
			ByteSize:    e.ByteSize,
			ElapsedMS:   e.Elapsed.Milliseconds(),
			Depth:       e.Depth,
			Attempts:    e.Attempts,
			ContentType: e.ContentType,
			Source:      e.Source,
			At:          e.FetchedAt.UTC(),
		}, true
	case crawler.FetchFailed:
		return Message{
			Type:       TypeFetchFailed,
			RunID:      runID,
			URL:        e.URL,
			StatusCode: e.StatusCode,
			Depth:      e.Depth,
			Attempts:   e.Attempts,
			Reason:     e.Reason,
			At:         e.FailedAt.UTC(),
		}, true
	case crawler.CrawlFinished:
		return Message{
			Type:            TypeCrawlFinished,
			RunID:           runID,
			Reason:          string(e.Reason),
			At:              now.UTC(),
			TotalFetched:    e.TotalFetched,
			TotalFailed:     e.TotalFailed,
			TotalDisallowed: e.TotalDisallowed,
			DurationMS:      e.Duration.Milliseconds(),
		}, true
	default:
		return Message{}, false
	}
}
