// Package tabular writes imaging metadata records as CSV or columnar files.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ehr/theranostics/internal/imaging"
)

var ErrUnknownFormat = errors.New("unknown tabular format")

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts "csv" or "parquet", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ColumnarEncoder encodes records in a columnar file format.
type ColumnarEncoder interface {
	Encode(w io.Writer, records []imaging.MetadataRecord) error
}

// WriteResult reports which artifact was written. Degraded is set when a
// columnar write was requested but CSV was written to Path instead.
type WriteResult struct {
	Path     string
	Format   Format
	Rows     int
	Degraded bool
}

type Writer struct {
	columnar ColumnarEncoder
}

// NewWriter returns a Writer. A nil encoder means columnar output is
// unavailable and every columnar request degrades to CSV.
func NewWriter(columnar ColumnarEncoder) *Writer {
	return &Writer{columnar: columnar}
}

// Write persists records to path. When format is FormatParquet and the
// columnar encoder is unavailable or fails, any file at path is
// removed and CSV is written to path+".csv" instead.
func (w *Writer) Write(records []imaging.MetadataRecord, path string, format Format) (WriteResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("create output directory: %w", err)
	}

	switch format {
	case FormatCSV:
		if err := writeCSVFile(path, records); err != nil {
			return WriteResult{}, err
		}
		return WriteResult{Path: path, Format: FormatCSV, Rows: len(records)}, nil

	case FormatParquet:
		if w.columnar != nil {
			if err := w.writeColumnar(path, records); err == nil {
				return WriteResult{Path: path, Format: FormatParquet, Rows: len(records)}, nil
			}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return WriteResult{}, fmt.Errorf("remove %s: %w", path, err)
		}
		fallback := path + ".csv"
		if err := writeCSVFile(fallback, records); err != nil {
			return WriteResult{}, err
		}
		return WriteResult{Path: fallback, Format: FormatCSV, Rows: len(records), Degraded: true}, nil
	}

	return WriteResult{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func (w *Writer) writeColumnar(path string, records []imaging.MetadataRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return w.columnar.Encode(f, records)
}

func writeCSVFile(path string, records []imaging.MetadataRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return WriteCSV(f, records)
}

// WriteCSV writes a header row followed by one row per record.
func WriteCSV(w io.Writer, records []imaging.MetadataRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(imaging.Columns); err != nil {
		return fmt.Errorf("tabular csv: write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.Values()); err != nil {
			return fmt.Errorf("tabular csv: write record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("tabular csv: flush: %w", err)
	}
	return nil
}
