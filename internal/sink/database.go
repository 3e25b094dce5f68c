package sink

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/nao1215/politecrawl/internal/crawler"
	"github.com/nao1215/politecrawl/internal/database"
)

// Database stores events in a CrawlDB. The database stays owned by the
// caller; Close does not close it.
type Database struct {
	db    *database.CrawlDB
	runID string
	now   func() time.Time
}

// NewDatabase registers the run in db and returns a sink for its events.
func NewDatabase(ctx context.Context, db *database.CrawlDB, runID string, seeds []string, startedAt time.Time) (*Database, error) {
	if err := db.StartRun(ctx, &database.Run{ID: runID, StartedAt: startedAt, Seeds: seeds}); err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}
	return &Database{db: db, runID: runID, now: time.Now}, nil
}

// Consume stores pages, failures and the final summary.
func (d *Database) Consume(ctx context.Context, ev crawler.Event) error {
	switch e := ev.(type) {
	case crawler.PageFetched:
		_, err := d.db.InsertPage(ctx, &database.PageRecord{
			RunID:       d.runID,
			URL:         e.URL,
			FinalURL:    e.FinalURL,
			Depth:       e.Depth,
			StatusCode:  e.StatusCode,
			ContentType: e.ContentType,
			ByteSize:    e.ByteSize,
			ContentHash: ContentHash(e.Body),
			Elapsed:     e.Elapsed,
			Attempts:    e.Attempts,
			Source:      e.Source,
			FetchedAt:   e.FetchedAt,
		})
		return err
	case crawler.FetchFailed:
		return d.db.InsertFailure(ctx, &database.FailureRecord{
			RunID:      d.runID,
			URL:        e.URL,
			Depth:      e.Depth,
			Reason:     e.Reason,
			StatusCode: e.StatusCode,
			Attempts:   e.Attempts,
			Kind:       e.Kind.String(),
			FailedAt:   e.FailedAt,
		})
	case crawler.CrawlFinished:
		return d.db.FinishRun(ctx, &database.Run{
			ID:              d.runID,
			FinishedAt:      d.now(),
			Reason:          string(e.Reason),
			TotalFetched:    e.TotalFetched,
			TotalFailed:     e.TotalFailed,
			TotalDisallowed: e.TotalDisallowed,
		})
	}
	return nil
}

// Close implements Sink.
func (d *Database) Close() error {
	return nil
}

// ContentHash returns the hex BLAKE2b-256 digest of body, or "" for an
// empty body.
func ContentHash(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}
