package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/database"
	"github.com/nao1215/politecrawl/internal/report"
	"github.com/nao1215/politecrawl/internal/sink"
)

// redisUpdateInterval throttles Redis progress writes.
const redisUpdateInterval = time.Second

// openSinks creates every configured event consumer.
func openSinks(ctx context.Context, cfg *config.Config, db *database.CrawlDB, runID string, seeds []string, started time.Time, logger *slog.Logger) (*sink.Fanout, error) {
	var sinks []sink.Sink
	fail := func(err error) (*sink.Fanout, error) {
		_ = sink.NewFanout(sinks...).Close()
		return nil, err
	}

	if db != nil {
		s, err := sink.NewDatabase(ctx, db, runID, seeds, started)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.OutDir != "" {
		s, err := sink.NewJSONL(cfg.OutDir, sink.WithChunkSize(cfg.MetaChunkSize))
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
		logger.Info("saving pages", "dir", cfg.OutDir)
	}
	if cfg.KafkaBroker != "" && cfg.KafkaTopic != "" {
		sinks = append(sinks, sink.NewKafka(cfg.KafkaBroker, cfg.KafkaTopic, runID))
		logger.Info("publishing events to kafka", "broker", cfg.KafkaBroker, "topic", cfg.KafkaTopic)
	}
	if cfg.RedisAddr != "" {
		sinks = append(sinks, sink.NewRedis(cfg.RedisAddr, runID, redisUpdateInterval))
		logger.Info("publishing progress to redis", "addr", cfg.RedisAddr, "key", sink.DefaultRedisPrefix+runID)
	}
	return sink.NewFanout(sinks...), nil
}

// outputSummary writes the summary in the requested format.
func outputSummary(cfg *config.Config, stdout io.Writer, summary *report.Summary) error {
	output := stdout
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	_, err := newReportWriter(output, cfg.JSONReport, cfg.MarkdownReport, cfg.Verbose).Write(summary)
	return err
}

// newReportWriter picks the writer for the requested format.
func newReportWriter(w io.Writer, jsonOutput, markdownOutput, verbose bool) report.Writer {
	switch {
	case jsonOutput:
		return report.NewJSONWriter(w, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case markdownOutput:
		return report.NewMarkdownWriter(w)
	default:
		return report.NewSimpleWriter(w, report.WithVerbose(verbose))
	}
}
