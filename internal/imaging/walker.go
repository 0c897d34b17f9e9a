package imaging

import (
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of extracting one file. Err is nil on success.
type Result struct {
	Path   string
	Record MetadataRecord
	Err    error
}

// Walker extracts every regular file below a directory. It never aborts:
// unreadable directories are skipped and per-file failures are reported in
// the file's Result.
type Walker struct {
	ex      *Extractor
	workers int
}

type WalkerOption func(*Walker)

// WithConcurrency extracts up to n files in parallel. Results keep
// traversal order regardless of n.
func WithConcurrency(n int) WalkerOption {
	return func(w *Walker) {
		if n > 0 {
			w.workers = n
		}
	}
}

func NewWalker(ex *Extractor, opts ...WalkerOption) *Walker {
	w := &Walker{ex: ex, workers: 1}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Files lists candidate files under dir in lexical traversal order.
// Symlinks are included when they resolve to a regular file.
func Files(dir string) []string {
	var paths []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		switch {
		case d.Type().IsRegular():
			paths = append(paths, path)
		case d.Type()&fs.ModeSymlink != 0:
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				paths = append(paths, path)
			}
		}
		return nil
	})
	return paths
}

// Walk returns one Result per candidate file under dir.
func (w *Walker) Walk(dir string) []Result {
	paths := Files(dir)
	results := make([]Result, len(paths))

	if w.workers <= 1 {
		for i, p := range paths {
			results[i] = w.extract(p)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(w.workers)
	for i, p := range paths {
		g.Go(func() error {
			results[i] = w.extract(p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Collect walks dir and splits the outcome into records and skipped results.
func (w *Walker) Collect(dir string) ([]MetadataRecord, []Result) {
	results := w.Walk(dir)
	var skipped []Result
	for _, r := range results {
		if r.Err != nil {
			skipped = append(skipped, r)
		}
	}
	return Records(results), skipped
}

func (w *Walker) extract(path string) Result {
	rec, err := w.ex.Extract(path)
	return Result{Path: path, Record: rec, Err: err}
}

// Records returns the successful records in order.
func Records(results []Result) []MetadataRecord {
	records := make([]MetadataRecord, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			records = append(records, r.Record)
		}
	}
	return records
}
