package patient

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ehr/theranostics/pkg/fhirmodels"
)

// Writer persists patients as NDJSON or CSV.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// WriteResources writes each resource as the server sent it, one per
// NDJSON line, or their normalised form as CSV.
func (w *Writer) WriteResources(path string, resources []fhirmodels.RawResource, asCSV bool) error {
	if asCSV {
		records := make([]Record, len(resources))
		for i, r := range resources {
			records[i] = Normalize(r.Resource)
		}
		return w.WriteRecords(path, records, true)
	}
	return writeFile(path, func(out io.Writer) error {
		return writeRawNDJSON(out, resources)
	})
}

// WriteRecords writes normalised records as NDJSON or CSV.
func (w *Writer) WriteRecords(path string, records []Record, asCSV bool) error {
	return writeFile(path, func(out io.Writer) error {
		if asCSV {
			return WriteCSV(out, records)
		}
		return writeNDJSON(out, len(records), func(i int) any { return records[i] })
	})
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return write(f)
}

// writeNDJSON emits one compact object per line. HTML characters and
// non-ASCII text are written literally.
func writeNDJSON(w io.Writer, n int, item func(int) any) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := 0; i < n; i++ {
		if err := enc.Encode(item(i)); err != nil {
			return fmt.Errorf("ndjson: encode line %d: %w", i+1, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("ndjson: flush: %w", err)
	}
	return nil
}

// writeRawNDJSON compacts each raw resource onto one line without
// reordering keys. Resources built without raw bytes are encoded.
func writeRawNDJSON(w io.Writer, resources []fhirmodels.RawResource) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	var buf bytes.Buffer
	for i, r := range resources {
		if len(r.Raw) == 0 {
			if err := enc.Encode(r.Resource); err != nil {
				return fmt.Errorf("ndjson: encode line %d: %w", i+1, err)
			}
			continue
		}
		buf.Reset()
		if err := json.Compact(&buf, r.Raw); err != nil {
			return fmt.Errorf("ndjson: compact line %d: %w", i+1, err)
		}
		buf.WriteByte('\n')
		if _, err := bw.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("ndjson: write line %d: %w", i+1, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("ndjson: flush: %w", err)
	}
	return nil
}

func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("patient csv: write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.Values()); err != nil {
			return fmt.Errorf("patient csv: write record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("patient csv: flush: %w", err)
	}
	return nil
}

// ReadCSV parses a file produced by WriteCSV.
func ReadCSV(r io.Reader) ([]Record, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("patient csv: read: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("patient csv: missing header")
	}
	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		idx[h] = i
	}
	for _, c := range Columns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("patient csv: missing column %q", c)
		}
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		records = append(records, Record{
			PatientID: row[idx["patient_id"]],
			Name:      row[idx["name"]],
			BirthDate: row[idx["birthDate"]],
		})
	}
	return records, nil
}
