package section

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/politecrawl/internal/sink"
)

// Defaults of a Processor.
const (
	// DefaultTag is the tag of the element to extract.
	DefaultTag = "div"

	// DefaultElementID is the id attribute of the element to extract.
	DefaultElementID = "body"

	// DefaultChunkSize is the number of records per output meta file.
	DefaultChunkSize = 5
)

var (
	// ErrInputNotFound is returned when the input directory does not exist.
	ErrInputNotFound = errors.New("input directory not found")

	// ErrSameDirectory is returned when input and output directories are
	// the same, which would mix both kinds of meta files.
	ErrSameDirectory = errors.New("input and output directories must differ")
)

// Record is one line of the extraction meta files.
type Record struct {
	// ID is the sequence number of the extraction and the name of its file.
	ID int `json:"id"`

	// OriginalHTMLID is the id of the stored page the section came from.
	OriginalHTMLID string `json:"original_html_id"`

	// URL is the address the page was fetched from.
	URL string `json:"url,omitempty"`

	// ProcessedAt is when the section was extracted, in UTC.
	ProcessedAt time.Time `json:"processed_at"`
}

// Stats counts the outcome of a Run.
type Stats struct {
	// Extracted is the number of sections written.
	Extracted int

	// AlreadyDone counts pages extracted by an earlier run.
	AlreadyDone int

	// NoSection counts HTML pages without the element.
	NoSection int

	// Missing counts pages listed in the meta files whose file is gone.
	Missing int

	// NotHTML counts pages stored with a non-HTML extension.
	NotHTML int

	// MetaFiles are the meta files written by this run.
	MetaFiles []string
}

// Processor extracts sections from the pages of a crawl output directory.
type Processor struct {
	inputDir  string
	outputDir string
	tag       string
	elementID string
	chunkSize int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithElement selects the element by tag and id attribute. An empty tag
// matches any element.
func WithElement(tag, id string) Option {
	return func(p *Processor) {
		if id != "" {
			p.tag = tag
			p.elementID = id
		}
	}
}

// WithChunkSize sets the number of records per output meta file.
func WithChunkSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithClock sets the clock for processed_at values and meta file names.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Processor reading the crawl output in inputDir and writing
// sections to outputDir.
func New(inputDir, outputDir string, opts ...Option) *Processor {
	p := &Processor{
		inputDir:  inputDir,
		outputDir: outputDir,
		tag:       DefaultTag,
		elementID: DefaultElementID,
		chunkSize: DefaultChunkSize,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run extracts the section of every page not processed yet. The last,
// possibly partial, meta chunk is written even when Run stops early.
func (p *Processor) Run(ctx context.Context) (stats Stats, err error) {
	if err := p.checkDirs(); err != nil {
		return stats, err
	}

	pages, err := sink.ReadMeta[sink.MetaRecord](p.inputDir)
	if err != nil {
		return stats, fmt.Errorf("failed to read crawl meta files: %w", err)
	}
	previous, err := sink.ReadMeta[Record](p.outputDir)
	if err != nil {
		return stats, fmt.Errorf("failed to read extraction meta files: %w", err)
	}

	done := make(map[string]bool, len(previous))
	nextID := 1
	for _, rec := range previous {
		done[rec.OriginalHTMLID] = true
		nextID = max(nextID, rec.ID+1)
	}

	meta, err := sink.NewMetaWriter[Record](p.outputDir, p.chunkSize, p.now)
	if err != nil {
		return stats, err
	}
	defer func() {
		err = errors.Join(err, meta.Close())
		stats.MetaFiles = meta.Files()
	}()

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if done[page.ID] {
			stats.AlreadyDone++
			continue
		}
		if !strings.EqualFold(filepath.Ext(page.Filename), ".html") {
			stats.NotHTML++
			continue
		}

		body, err := os.ReadFile(filepath.Join(p.inputDir, filepath.Base(page.Filename)))
		if errors.Is(err, os.ErrNotExist) {
			stats.Missing++
			p.logger.Warn("stored page is missing", slog.String("file", page.Filename), slog.String("url", page.URL))
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read %s: %w", page.Filename, err)
		}

		content, found, err := InnerHTML(body, p.tag, p.elementID)
		if err != nil {
			return stats, fmt.Errorf("%s: %w", page.Filename, err)
		}
		if !found || strings.TrimSpace(content) == "" {
			stats.NoSection++
			p.logger.Debug("no section in page", slog.String("file", page.Filename), slog.String("url", page.URL))
			continue
		}

		filename := strconv.Itoa(nextID) + ".html"
		if err := os.WriteFile(filepath.Join(p.outputDir, filename), []byte(content), 0600); err != nil {
			return stats, fmt.Errorf("failed to save %s: %w", filename, err)
		}
		if err := meta.Add(Record{
			ID:             nextID,
			OriginalHTMLID: page.ID,
			URL:            page.URL,
			ProcessedAt:    p.now().UTC(),
		}); err != nil {
			return stats, err
		}
		done[page.ID] = true
		nextID++
		stats.Extracted++
	}
	return stats, nil
}

func (p *Processor) checkDirs() error {
	info, err := os.Stat(p.inputDir)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("%s: %w", p.inputDir, ErrInputNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to access input directory: %w", err)
	}

	in, errIn := filepath.Abs(p.inputDir)
	out, errOut := filepath.Abs(p.outputDir)
	if errIn == nil && errOut == nil && in == out {
		return ErrSameDirectory
	}
	return nil
}
