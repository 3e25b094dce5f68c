package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/crawler"
	"github.com/nao1215/politecrawl/internal/database"
	"github.com/nao1215/politecrawl/internal/report"
)

// defaultHistoryLimit is the number of runs listed by default.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
// It lists stored runs or shows the summary of one run.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show stored crawl runs",
		Long: `History reads crawl runs from the database.

Without arguments it lists the most recent runs. With a run ID it rebuilds
the summary of that run from the stored pages and failures.

Examples:
  # List the last 20 runs
  politecrawl history

  # Show one run as Markdown
  politecrawl history --markdown 6f1c2a9e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().String("db", config.XDGDataDir(),
		"Directory of the SQLite database")
	cmd.Flags().IntP("limit", "n", defaultHistoryLimit,
		"Number of runs to list")
	cmd.Flags().BoolP("json", "j", false,
		"Output the run summary in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output the run summary in Markdown format")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	dbDir, err := cmd.Flags().GetString("db")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOutput && markdownOutput {
		return config.ErrConflictingReportFormats
	}

	db, err := database.Open(dbDir, database.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		return fmt.Errorf("failed to open database (run 'politecrawl crawl' first): %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) == 0 {
		return listRuns(ctx, cmd.OutOrStdout(), db, limit)
	}

	summary, err := loadSummary(ctx, db, args[0])
	if err != nil {
		return err
	}
	_, err = newReportWriter(cmd.OutOrStdout(), jsonOutput, markdownOutput, getVerboseFlag(cmd)).Write(summary)
	return err
}

// listRuns prints a table of recent runs.
func listRuns(ctx context.Context, w io.Writer, db *database.CrawlDB, limit int) error {
	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No crawl runs stored.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tFETCHED\tFAILED\tREASON\tSEEDS")
	for _, r := range runs {
		reason := r.Reason
		if reason == "" {
			reason = "(unfinished)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.TotalFetched,
			r.TotalFailed,
			reason,
			strings.Join(r.Seeds, " "),
		)
	}
	return tw.Flush()
}

// loadSummary rebuilds the summary of a stored run by replaying its pages
// and failures through a report.Collector.
func loadSummary(ctx context.Context, db *database.CrawlDB, runID string) (*report.Summary, error) {
	run, err := db.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return nil, fmt.Errorf("run %s not found (use 'politecrawl history' to list runs)", runID)
		}
		return nil, err
	}
	pages, err := db.ListPages(ctx, runID)
	if err != nil {
		return nil, err
	}
	failures, err := db.ListFailures(ctx, runID)
	if err != nil {
		return nil, err
	}

	c := report.NewCollector(run.ID, run.Seeds, run.StartedAt)
	for _, p := range pages {
		c.Observe(crawler.PageFetched{
			URL:         p.URL,
			FinalURL:    p.FinalURL,
			StatusCode:  p.StatusCode,
			ByteSize:    p.ByteSize,
			Elapsed:     p.Elapsed,
			Depth:       p.Depth,
			Attempts:    p.Attempts,
			ContentType: p.ContentType,
			Source:      p.Source,
			FetchedAt:   p.FetchedAt,
		})
	}
	for _, f := range failures {
		c.Observe(crawler.FetchFailed{
			URL:        f.URL,
			Reason:     f.Reason,
			Attempts:   f.Attempts,
			Depth:      f.Depth,
			StatusCode: f.StatusCode,
			FailedAt:   f.FailedAt,
		})
	}

	if run.FinishedAt.IsZero() {
		return c.Summary(), nil
	}
	c.Observe(crawler.CrawlFinished{
		TotalFetched:    run.TotalFetched,
		TotalFailed:     run.TotalFailed,
		TotalDisallowed: run.TotalDisallowed,
		Duration:        run.FinishedAt.Sub(run.StartedAt),
		Reason:          crawler.FinishReason(run.Reason),
	})
	summary := c.Summary()
	summary.FinishedAt = run.FinishedAt
	return summary, nil
}
