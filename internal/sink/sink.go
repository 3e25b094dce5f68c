package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/politecrawl/internal/crawler"
)

// ErrNoSummary is returned by Pump when the stream ended without a
// CrawlFinished event.
var ErrNoSummary = errors.New("event stream ended without a summary")

// Sink consumes crawl events.
type Sink interface {
	// Consume handles one event. Events arrive in stream order from a
	// single goroutine.
	Consume(ctx context.Context, ev crawler.Event) error

	// Close flushes buffered output and releases resources.
	Close() error
}

// Fanout forwards events to several sinks.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a Fanout. Nil sinks are ignored.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Consume passes ev to every sink, even when an earlier one fails.
func (f *Fanout) Consume(ctx context.Context, ev crawler.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Consume(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pump reads events until the channel is closed, passing each one to s and
// then to observe, which may be nil. It returns the CrawlFinished summary.
// Sink errors are logged as they happen and the first one is returned
// after the stream ends.
func Pump(ctx context.Context, events <-chan crawler.Event, s Sink, logger *slog.Logger, observe func(crawler.Event)) (crawler.CrawlFinished, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var summary crawler.CrawlFinished
	var firstErr error
	finished := false
	failures := 0
	for ev := range events {
		if s != nil {
			if err := s.Consume(ctx, ev); err != nil {
				failures++
				if firstErr == nil {
					firstErr = err
				}
				logger.Warn("sink failed to consume event", slog.String("error", err.Error()))
			}
		}
		if observe != nil {
			observe(ev)
		}
		if fin, ok := ev.(crawler.CrawlFinished); ok {
			summary = fin
			finished = true
		}
	}

	if !finished {
		return summary, ErrNoSummary
	}
	if firstErr != nil {
		return summary, fmt.Errorf("%d sink errors, first: %w", failures, firstErr)
	}
	return summary, nil
}
