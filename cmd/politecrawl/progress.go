package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/nao1215/politecrawl/internal/crawler"
)

// progress shows processed URLs against the page budget. A nil progress
// does nothing.
type progress struct {
	bar *progressbar.ProgressBar
	w   io.Writer
}

// newProgress returns nil when w is nil.
func newProgress(w io.Writer, maxPages int) *progress {
	if w == nil {
		return nil
	}
	bar := progressbar.NewOptions(maxPages,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("crawling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &progress{bar: bar, w: w}
}

// Observe advances the bar for every processed URL.
func (p *progress) Observe(ev crawler.Event) {
	if p == nil {
		return
	}
	switch ev.(type) {
	case crawler.PageFetched, crawler.FetchFailed:
		_ = p.bar.Add(1)
	}
}

// Finish completes the bar and ends its line.
func (p *progress) Finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(p.w)
}
