package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	plog "github.com/nao1215/politecrawl/internal/log"
	"github.com/nao1215/politecrawl/internal/section"
)

var (
	// errNoInputDir is returned when extract runs without --input-dir.
	errNoInputDir = errors.New("--input-dir is required (the --out-dir of a crawl)")

	// errEmptyElementID is returned for --id "".
	errEmptyElementID = errors.New("--id must not be empty")
)

// NewExtractCmd creates the extract command.
func NewExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a content section from stored pages",
		Long: `Extract reads the pages saved by 'politecrawl crawl --out-dir' and writes
the inner HTML of one element of each page, by default <div id="body">.

Extracted sections are saved as {n}.html in the output directory and listed
in chunked meta/index_{timestamp}_{n}.jsonl files with the fields id,
original_html_id, url and processed_at. Pages extracted by an earlier run
are skipped, so the command can run after every crawl.

Examples:
  # Extract <div id="body"> from a crawl's output directory
  politecrawl extract -i ./pages

  # Extract <main id="content"> into a separate directory
  politecrawl extract -i ./pages --output-dir ./content --tag main --id content`,
		Args: cobra.NoArgs,
		RunE: runExtractCmd,
	}

	cmd.Flags().StringP("input-dir", "i", "",
		"Output directory of a crawl run")
	cmd.Flags().String("output-dir", "",
		"Directory for extracted sections (default: <input-dir>/extracted)")
	cmd.Flags().Int("chunk-size", section.DefaultChunkSize,
		"Records per JSONL meta file")
	cmd.Flags().String("tag", section.DefaultTag,
		"Tag of the element to extract; empty matches any tag")
	cmd.Flags().String("id", section.DefaultElementID,
		"id attribute of the element to extract")

	return cmd
}

// runExtractCmd executes the extract command.
func runExtractCmd(cmd *cobra.Command, _ []string) error {
	inputDir, err := cmd.Flags().GetString("input-dir")
	if err != nil {
		return err
	}
	if inputDir == "" {
		return errNoInputDir
	}
	outputDir, err := cmd.Flags().GetString("output-dir")
	if err != nil {
		return err
	}
	if outputDir == "" {
		outputDir = filepath.Join(inputDir, "extracted")
	}
	chunkSize, err := cmd.Flags().GetInt("chunk-size")
	if err != nil {
		return err
	}
	tag, err := cmd.Flags().GetString("tag")
	if err != nil {
		return err
	}
	id, err := cmd.Flags().GetString("id")
	if err != nil {
		return err
	}
	if id == "" {
		return errEmptyElementID
	}

	logger, closer := plog.New(cmd.ErrOrStderr(), plog.Options{Verbose: getVerboseFlag(cmd)})
	defer closer.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := section.New(inputDir, outputDir,
		section.WithElement(tag, id),
		section.WithChunkSize(chunkSize),
		section.WithLogger(logger))
	stats, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Extracted %d sections into %s\n", stats.Extracted, outputDir)
	fmt.Fprintf(out, "  already extracted: %d\n", stats.AlreadyDone)
	fmt.Fprintf(out, "  without the element: %d\n", stats.NoSection)
	if stats.NotHTML > 0 {
		fmt.Fprintf(out, "  not HTML: %d\n", stats.NotHTML)
	}
	if stats.Missing > 0 {
		fmt.Fprintf(out, "  missing files: %d\n", stats.Missing)
	}
	return nil
}
