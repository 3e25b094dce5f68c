package sink

import (
	"bufio"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// metaTimestamp is the layout of the timestamp in meta file names.
const metaTimestamp = "20060102150405"

// MetaWriter buffers records and writes them to
// dir/meta/index_{YYYYMMDDhhmmss}_{n}.jsonl files of chunkSize records.
// The timestamp is taken in UTC when a chunk is written and n counts the
// chunks of this writer from 1.
//
// A MetaWriter is not safe for concurrent use.
type MetaWriter[T any] struct {
	dir       string
	chunkSize int
	now       func() time.Time

	pending []T
	chunks  int
	written []string
}

// NewMetaWriter creates dir/meta and returns a writer. A chunkSize below 1
// uses DefaultChunkSize; a nil now uses time.Now.
func NewMetaWriter[T any](dir string, chunkSize int, now func() time.Time) (*MetaWriter[T], error) {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(filepath.Join(dir, "meta"), 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &MetaWriter[T]{dir: dir, chunkSize: chunkSize, now: now}, nil
}

// Add buffers rec and writes a meta file once chunkSize records are pending.
func (m *MetaWriter[T]) Add(rec T) error {
	m.pending = append(m.pending, rec)
	if len(m.pending) >= m.chunkSize {
		return m.flush()
	}
	return nil
}

// Close writes the last, possibly partial, chunk.
func (m *MetaWriter[T]) Close() error {
	if len(m.pending) == 0 {
		return nil
	}
	return m.flush()
}

// Files returns the meta files written so far.
func (m *MetaWriter[T]) Files() []string {
	return slices.Clone(m.written)
}

func (m *MetaWriter[T]) flush() error {
	m.chunks++
	name := fmt.Sprintf("index_%s_%d.jsonl", m.now().UTC().Format(metaTimestamp), m.chunks)
	path := filepath.Join(m.dir, "meta", name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // path is built from the output directory
	if err != nil {
		return fmt.Errorf("failed to create meta file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range m.pending {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write meta record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write meta file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close meta file: %w", err)
	}

	m.pending = m.pending[:0]
	m.written = append(m.written, path)
	return nil
}

// metaFile is a meta file name split into its sort keys.
type metaFile struct {
	path  string
	stamp string
	chunk int
}

// parseMetaName splits index_{timestamp}_{n}.jsonl. It reports false for
// any other name.
func parseMetaName(name string) (string, int, bool) {
	rest, ok := strings.CutPrefix(name, "index_")
	if !ok {
		return "", 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".jsonl")
	if !ok {
		return "", 0, false
	}
	stamp, n, ok := strings.Cut(rest, "_")
	if !ok || len(stamp) != len(metaTimestamp) {
		return "", 0, false
	}
	chunk, err := strconv.Atoi(n)
	if err != nil {
		return "", 0, false
	}
	return stamp, chunk, true
}

// ReadMeta returns every record of the meta files under dir/meta, in the
// order the files were written. A missing meta directory yields no
// records. Blank lines are skipped; a malformed line is an error.
func ReadMeta[T any](dir string) ([]T, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "meta"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list meta files: %w", err)
	}

	var files []metaFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if stamp, chunk, ok := parseMetaName(e.Name()); ok {
			files = append(files, metaFile{path: filepath.Join(dir, "meta", e.Name()), stamp: stamp, chunk: chunk})
		}
	}
	slices.SortFunc(files, func(a, b metaFile) int {
		return cmp.Or(strings.Compare(a.stamp, b.stamp), cmp.Compare(a.chunk, b.chunk))
	})

	var records []T
	for _, mf := range files {
		recs, err := readMetaFile[T](mf.path)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func readMetaFile[T any](path string) ([]T, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the meta directory listing
	if err != nil {
		return nil, fmt.Errorf("failed to open meta file: %w", err)
	}
	defer f.Close()

	var records []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: invalid meta record: %w", filepath.Base(path), line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return records, nil
}
