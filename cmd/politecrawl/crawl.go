package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/crawler"
	"github.com/nao1215/politecrawl/internal/database"
	plog "github.com/nao1215/politecrawl/internal/log"
	"github.com/nao1215/politecrawl/internal/report"
	"github.com/nao1215/politecrawl/internal/sink"
	"github.com/nao1215/politecrawl/internal/sitemap"
)

var (
	// errNoSeeds is returned when neither seeds nor a sitemap are given.
	errNoSeeds = errors.New("no seeds provided (specify one or more URLs or --sitemap)")

	// errIncrementalNeedsDB is returned for --incremental with --no-db.
	errIncrementalNeedsDB = errors.New("--incremental requires the database (remove --no-db)")

	// errIncrementalNeedsSitemap is returned for --incremental without --sitemap.
	errIncrementalNeedsSitemap = errors.New("--incremental requires --sitemap")

	// errInvalidHeader is returned for a --header value without a colon.
	errInvalidHeader = errors.New("invalid header: expected \"Name: value\"")
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Crawl websites starting from seed URLs",
		Long: `Crawl fetches the seed URLs and follows their links breadth-first.

Requests are polite by default:
- robots.txt is honoured
- one request per host at a time, one second apart
- 429 responses pause the host (Retry-After is honoured)
- timeouts and 5xx responses are retried with exponential backoff

Every run is stored in a SQLite database in the XDG data directory.

Examples:
  # Crawl a site two levels deep
  politecrawl crawl --depth 2 https://example.com/

  # Seed from a sitemap and skip pages unchanged since the last run
  politecrawl crawl --sitemap https://example.com/sitemap.xml --incremental

  # Save page bodies and JSONL index files
  politecrawl crawl --out-dir ./pages https://example.com/

  # Publish events to Kafka and progress to Redis
  politecrawl crawl --kafka-broker localhost:9092 --kafka-topic crawl \
    --redis-addr localhost:6379 https://example.com/

  # Write a Markdown summary to a file
  politecrawl crawl --markdown -o report.md https://example.com/`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Scope flags
	cmd.Flags().IntP("depth", "d", config.DefaultMaxDepth,
		"Maximum link depth from the seeds")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Maximum number of URLs accepted in one run")
	cmd.Flags().Duration("max-duration", 0,
		"Time budget of the run (0 for unlimited)")
	cmd.Flags().Bool("same-site", false,
		"Follow only links on the registrable domains of the seeds")
	cmd.Flags().Int("max-links", config.DefaultMaxLinksPerPage,
		"Maximum links taken from a single page")
	cmd.Flags().StringSlice("track-param", nil,
		"Query parameter kept during URL normalization (repeatable)")

	// Politeness flags
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of concurrent fetch workers")
	cmd.Flags().Int("per-host", config.DefaultPerHostConcurrency,
		"Maximum concurrent requests per host")
	cmd.Flags().Duration("interval", config.DefaultPerHostMinInterval,
		"Minimum time between requests to the same host")
	cmd.Flags().Float64("rps", 0,
		"Maximum requests per second across all hosts (0 for unlimited)")
	cmd.Flags().Bool("no-robots", false,
		"Ignore robots.txt")
	cmd.Flags().Bool("no-nofollow", false,
		"Follow links marked rel=nofollow")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header and robots.txt agent name")

	// Request flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultRequestTimeout,
		"Timeout of a single request attempt")
	cmd.Flags().Int("retries", config.DefaultMaxRetries,
		"Retries after the first attempt for transient failures")
	cmd.Flags().Duration("backoff-base", config.DefaultBackoffBase,
		"Delay before the first retry")
	cmd.Flags().Duration("backoff-max", config.DefaultBackoffMax,
		"Maximum retry delay")
	cmd.Flags().Duration("cooldown-429", config.DefaultCooldown429,
		"Host pause after 429 when Retry-After is missing")
	cmd.Flags().StringArrayP("header", "H", nil,
		"Extra request header as \"Name: value\" (repeatable)")
	cmd.Flags().String("proxy", "",
		"HTTP(S) or SOCKS5 proxy URL")
	cmd.Flags().Int64("max-body-size", config.DefaultMaxBodySize,
		"Maximum response body size in bytes")

	// Seed flags
	cmd.Flags().String("sitemap", "",
		"Add every entry of this sitemap to the seeds")
	cmd.Flags().Bool("incremental", false,
		"Skip sitemap entries not modified since their last fetch")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .politecrawl in current or home directory)")

	// Storage and publishing flags
	cmd.Flags().String("db", config.XDGDataDir(),
		"Directory of the SQLite database")
	cmd.Flags().Bool("no-db", false,
		"Do not store the run in the database")
	cmd.Flags().String("out-dir", "",
		"Save page bodies and JSONL index files to this directory")
	cmd.Flags().Int("chunk-size", config.DefaultMetaChunkSize,
		"Records per JSONL index file")
	cmd.Flags().String("kafka-broker", "",
		"Kafka broker address for event publishing")
	cmd.Flags().String("kafka-topic", "",
		"Kafka topic for event publishing")
	cmd.Flags().String("redis-addr", "",
		"Redis address for progress updates")

	// Logging flags
	cmd.Flags().String("log-file", "",
		"Also write JSON logs to this rotating file")
	cmd.Flags().Bool("no-progress", false,
		"Hide the progress bar")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON summary (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown summary (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write summary to specified file path (creates directories if needed)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, closer := plog.New(cmd.ErrOrStderr(), plog.Options{
		Verbose: cfg.Verbose,
		File:    cfg.LogFile,
	})
	defer closer.Close()
	slog.SetDefault(logger)

	noProgress, err := cmd.Flags().GetBool("no-progress")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress io.Writer
	if !noProgress {
		progress = cmd.ErrOrStderr()
	}
	return runCrawl(ctx, cfg, logger, cmd.OutOrStdout(), progress)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// flagValue stores the value of flag name in dst when the flag was set on
// the command line. Unset flags leave values from the configuration file
// in place.
func flagValue[T any](cmd *cobra.Command, name string, get func(string) (T, error), dst *T) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := get(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// negatedFlag stores the inverse of a --no-* flag in dst when it was set.
func negatedFlag(cmd *cobra.Command, name string, dst *bool) error {
	var off bool
	if err := flagValue(cmd, name, cmd.Flags().GetBool, &off); err != nil {
		return err
	}
	if cmd.Flags().Changed(name) {
		*dst = !off
	}
	return nil
}

// buildConfig creates a Config from the defaults, the configuration file
// and the command line, in that order of precedence.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicitly given file must exist; otherwise a missing file is fine.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	if configPath != "" {
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		file.Apply(cfg)
	} else if cfg.ConfigFilePath != "" {
		return nil, fmt.Errorf("%s: %w", cfg.ConfigFilePath, config.ErrConfigNotFound)
	}

	steps := []error{
		flagValue(cmd, "depth", flags.GetInt, &cfg.MaxDepth),
		flagValue(cmd, "max-pages", flags.GetInt, &cfg.MaxPages),
		flagValue(cmd, "max-duration", flags.GetDuration, &cfg.MaxDuration),
		flagValue(cmd, "same-site", flags.GetBool, &cfg.SameSiteOnly),
		flagValue(cmd, "max-links", flags.GetInt, &cfg.MaxLinksPerPage),
		flagValue(cmd, "track-param", flags.GetStringSlice, &cfg.TrackedQueryParams),
		flagValue(cmd, "workers", flags.GetInt, &cfg.Workers),
		flagValue(cmd, "per-host", flags.GetInt, &cfg.PerHostConcurrency),
		flagValue(cmd, "interval", flags.GetDuration, &cfg.PerHostMinInterval),
		flagValue(cmd, "rps", flags.GetFloat64, &cfg.GlobalRPS),
		negatedFlag(cmd, "no-robots", &cfg.RespectRobots),
		negatedFlag(cmd, "no-nofollow", &cfg.RespectNofollow),
		flagValue(cmd, "user-agent", flags.GetString, &cfg.UserAgent),
		flagValue(cmd, "timeout", flags.GetDuration, &cfg.RequestTimeout),
		flagValue(cmd, "retries", flags.GetInt, &cfg.MaxRetries),
		flagValue(cmd, "backoff-base", flags.GetDuration, &cfg.BackoffBase),
		flagValue(cmd, "backoff-max", flags.GetDuration, &cfg.BackoffMax),
		flagValue(cmd, "cooldown-429", flags.GetDuration, &cfg.Cooldown429),
		flagValue(cmd, "proxy", flags.GetString, &cfg.ProxyURL),
		flagValue(cmd, "max-body-size", flags.GetInt64, &cfg.MaxBodySize),
		flagValue(cmd, "chunk-size", flags.GetInt, &cfg.MetaChunkSize),
	}
	if err := errors.Join(steps...); err != nil {
		return nil, err
	}

	headers, err := flags.GetStringArray("header")
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidHeader, h)
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		cfg.Headers[name] = strings.TrimSpace(value)
	}

	if cfg.SitemapURL, err = flags.GetString("sitemap"); err != nil {
		return nil, err
	}
	if cfg.Incremental, err = flags.GetBool("incremental"); err != nil {
		return nil, err
	}
	if cfg.DBDir, err = flags.GetString("db"); err != nil {
		return nil, err
	}
	noDB, err := flags.GetBool("no-db")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noDB
	if cfg.OutDir, err = flags.GetString("out-dir"); err != nil {
		return nil, err
	}
	if cfg.KafkaBroker, err = flags.GetString("kafka-broker"); err != nil {
		return nil, err
	}
	if cfg.KafkaTopic, err = flags.GetString("kafka-topic"); err != nil {
		return nil, err
	}
	if cfg.RedisAddr, err = flags.GetString("redis-addr"); err != nil {
		return nil, err
	}
	if cfg.LogFile, err = flags.GetString("log-file"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	cfg.Verbose = getVerboseFlag(cmd)

	if cfg.Incremental && cfg.SitemapURL == "" {
		return nil, errIncrementalNeedsSitemap
	}
	if cfg.Incremental && !cfg.SaveToDB {
		return nil, errIncrementalNeedsDB
	}
	if (cfg.KafkaBroker == "") != (cfg.KafkaTopic == "") {
		return nil, errors.New("--kafka-broker and --kafka-topic must be used together")
	}

	cfg.Seeds = args
	return cfg, nil
}

// runCrawl executes one crawl run. The summary is written to out or to
// the configured report file; the progress bar, if any, to progress.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, out, progress io.Writer) error {
	sess, err := crawler.NewSession(cfg, crawler.WithLogger(logger))
	if err != nil {
		return err
	}

	var db *database.CrawlDB
	if cfg.SaveToDB {
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Debug("database opened", "path", db.Path())
	}

	seeds, err := collectSeeds(ctx, cfg, sess, db, logger)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		if cfg.SitemapURL != "" {
			fmt.Fprintln(out, "Nothing to crawl: every sitemap entry is up to date.")
			return nil
		}
		return errNoSeeds
	}

	runID := uuid.NewString()
	started := time.Now()

	// Sinks outlive the crawl context so the final events are stored
	// after an interrupt.
	sinkCtx := context.WithoutCancel(ctx)
	sinks, err := openSinks(sinkCtx, cfg, db, runID, seeds, started, logger)
	if err != nil {
		return err
	}

	logger.Info("starting crawl",
		"run", runID,
		"seeds", len(seeds),
		"maxDepth", cfg.MaxDepth,
		"maxPages", cfg.MaxPages,
		"workers", cfg.Workers,
		"sinks", sinks.Len(),
	)

	events, err := sess.Run(ctx, seeds)
	if err != nil {
		_ = sinks.Close()
		return err
	}

	collector := report.NewCollector(runID, seeds, started)
	bar := newProgress(progress, cfg.MaxPages)
	_, pumpErr := sink.Pump(sinkCtx, events, sinks, logger, func(ev crawler.Event) {
		collector.Observe(ev)
		bar.Observe(ev)
	})
	bar.Finish()

	closeErr := sinks.Close()
	summary := collector.Summary()
	logger.Info("crawl finished",
		"run", runID,
		"reason", summary.Reason,
		"fetched", summary.TotalFetched,
		"failed", summary.TotalFailed,
	)

	if err := outputSummary(cfg, out, summary); err != nil {
		return errors.Join(fmt.Errorf("failed to write summary: %w", err), pumpErr, closeErr)
	}
	return errors.Join(pumpErr, closeErr)
}

// collectSeeds returns the command line seeds plus the sitemap entries.
func collectSeeds(ctx context.Context, cfg *config.Config, sess *crawler.Session, db *database.CrawlDB, logger *slog.Logger) ([]string, error) {
	seeds := append([]string(nil), cfg.Seeds...)
	if cfg.SitemapURL == "" {
		return seeds, nil
	}

	entries, err := sitemap.Load(ctx, sess.Transport(), cfg.SitemapURL, cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to load sitemap: %w", err)
	}
	logger.Info("sitemap loaded", "url", cfg.SitemapURL, "entries", len(entries))

	if cfg.Incremental && db != nil {
		var skipped int
		entries, skipped, err = sitemap.FilterUpdated(ctx, entries, db.LastFetched)
		if err != nil {
			return nil, fmt.Errorf("failed to filter sitemap: %w", err)
		}
		logger.Info("skipped unchanged sitemap entries", "skipped", skipped, "remaining", len(entries))
	}
	return append(seeds, sitemap.URLs(entries)...), nil
}
