package tabular

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ehr/theranostics/internal/imaging"
)

func sampleRecords() []imaging.MetadataRecord {
	return []imaging.MetadataRecord{
		{StudyInstanceUID: "1.2.1", PatientID: "P1", Modality: "CT", FilePath: "/d/a.dcm"},
		{StudyInstanceUID: "1.2.2", PatientID: "P2", Modality: "PT", Manufacturer: "ACME, Inc", FilePath: "/d/b.dcm"},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestWrite_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	res, err := NewWriter(nil).Write(sampleRecords(), path, FormatCSV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Path != path || res.Format != FormatCSV || res.Degraded || res.Rows != 2 {
		t.Errorf("unexpected result: %+v", res)
	}

	rows := readCSV(t, path)
	if len(rows) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(imaging.Columns, ",") {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[2][6] != "ACME, Inc" {
		t.Errorf("expected quoted manufacturer to round trip, got %q", rows[2][6])
	}
	if rows[1][1] != "" {
		t.Errorf("expected empty series uid, got %q", rows[1][1])
	}
}

func TestWrite_CSVEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if _, err := NewWriter(nil).Write(nil, path, FormatCSV); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := readCSV(t, path)
	if len(rows) != 1 {
		t.Errorf("expected header only, got %d lines", len(rows))
	}
}

func TestWrite_ParquetUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	res, err := NewWriter(nil).Write(sampleRecords(), path, FormatParquet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Degraded || res.Path != path+".csv" {
		t.Errorf("expected degraded write to %s.csv, got %+v", path, res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file at %s", path)
	}
	if rows := readCSV(t, path+".csv"); len(rows) != 3 {
		t.Errorf("expected 3 lines, got %d", len(rows))
	}
}

func TestWrite_ParquetUnavailableRemovesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := NewWriter(nil).Write(nil, path, FormatParquet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Degraded || res.Path != path+".csv" {
		t.Errorf("expected degraded write to %s.csv, got %+v", path, res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected stale file at %s to be removed, stat err = %v", path, err)
	}
	if rows := readCSV(t, path+".csv"); len(rows) != 1 {
		t.Errorf("expected header only, got %d rows", len(rows))
	}
}

type failingEncoder struct{}

func (failingEncoder) Encode(w io.Writer, _ []imaging.MetadataRecord) error {
	_, _ = w.Write([]byte("PAR1partial"))
	return errors.New("encoder exploded")
}

func TestWrite_ParquetFailureRemovesPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	res, err := NewWriter(failingEncoder{}).Write(sampleRecords(), path, FormatParquet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Degraded {
		t.Error("expected degraded result")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected partial file to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(path + ".csv"); err != nil {
		t.Errorf("expected fallback csv: %v", err)
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	_, err := NewWriter(nil).Write(nil, filepath.Join(t.TempDir(), "x"), Format("xlsx"))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		err  bool
	}{
		{"csv", FormatCSV, false},
		{"Parquet", FormatParquet, false},
		{"json", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseFormat(%q): unexpected error state %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
