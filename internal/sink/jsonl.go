package sink

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/politecrawl/internal/crawler"
)

// DefaultChunkSize is the number of records per meta file.
const DefaultChunkSize = 10

// MetaRecord is one line of a meta file.
type MetaRecord struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	FetchedAt time.Time `json:"fetched_at"`
}

// JSONL saves each fetched page as {id}{ext} in a directory and lists the
// pages in meta/index_{YYYYMMDDhhmmss}_{n}.jsonl files of chunkSize
// records, written by a MetaWriter.
type JSONL struct {
	dir       string
	chunkSize int
	now       func() time.Time
	newID     func() string

	meta *MetaWriter[MetaRecord]
}

// JSONLOption configures a JSONL sink.
type JSONLOption func(*JSONL)

// WithChunkSize sets the number of records per meta file.
func WithChunkSize(n int) JSONLOption {
	return func(j *JSONL) {
		if n > 0 {
			j.chunkSize = n
		}
	}
}

// WithClock sets the clock used for meta file names.
func WithClock(now func() time.Time) JSONLOption {
	return func(j *JSONL) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJSONL creates the output directories and returns the sink.
func NewJSONL(dir string, opts ...JSONLOption) (*JSONL, error) {
	j := &JSONL{
		dir:       dir,
		chunkSize: DefaultChunkSize,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(j)
	}
	meta, err := NewMetaWriter[MetaRecord](dir, j.chunkSize, j.now)
	if err != nil {
		return nil, err
	}
	j.meta = meta
	return j, nil
}

// Consume writes the body of every fetched page. Other events are ignored.
func (j *JSONL) Consume(_ context.Context, ev crawler.Event) error {
	page, ok := ev.(crawler.PageFetched)
	if !ok {
		return nil
	}

	id := j.newID()
	filename := id + extensionFor(page.ContentType)
	if err := os.WriteFile(filepath.Join(j.dir, filename), page.Body, 0600); err != nil {
		return fmt.Errorf("failed to save %s: %w", page.URL, err)
	}

	return j.meta.Add(MetaRecord{
		ID:        id,
		URL:       page.URL,
		Filename:  filename,
		FetchedAt: page.FetchedAt.UTC(),
	})
}

// Close writes the last, possibly partial, chunk.
func (j *JSONL) Close() error {
	return j.meta.Close()
}

// MetaFiles returns the meta files written so far.
func (j *JSONL) MetaFiles() []string {
	return j.meta.Files()
}

// extensionFor picks a file extension for a content type.
func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return ".html"
	case "application/xml", "text/xml":
		return ".xml"
	case "text/plain":
		return ".txt"
	case "application/json":
		return ".json"
	default:
		return ".bin"
	}
}
