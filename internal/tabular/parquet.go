package tabular

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/ehr/theranostics/internal/imaging"
)

// Row is the parquet schema of a MetadataRecord.
type Row struct {
	StudyInstanceUID  string `parquet:"study_instance_uid"`
	SeriesInstanceUID string `parquet:"series_instance_uid"`
	SOPInstanceUID    string `parquet:"sop_instance_uid"`
	PatientID         string `parquet:"patient_id"`
	Modality          string `parquet:"modality"`
	StudyDate         string `parquet:"study_date"`
	Manufacturer      string `parquet:"manufacturer"`
	FilePath          string `parquet:"file_path"`
}

func rowFromRecord(r imaging.MetadataRecord) Row {
	return Row(r)
}

// ParquetEncoder writes records with github.com/parquet-go/parquet-go.
// Empty input produces a valid zero-row file carrying the schema.
type ParquetEncoder struct{}

func (ParquetEncoder) Encode(w io.Writer, records []imaging.MetadataRecord) error {
	pw := parquet.NewGenericWriter[Row](w)

	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = rowFromRecord(r)
	}
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			pw.Close()
			return fmt.Errorf("parquet: write rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("parquet: close: %w", err)
	}
	return nil
}
