// Package imaging extracts per-file DICOM header metadata and walks
// directory trees of DICOM files.
package imaging

// MetadataRecord is the flat header summary of one DICOM file. Missing
// attributes are empty strings; FilePath is always set.
type MetadataRecord struct {
	StudyInstanceUID  string `json:"study_instance_uid"`
	SeriesInstanceUID string `json:"series_instance_uid"`
	SOPInstanceUID    string `json:"sop_instance_uid"`
	PatientID         string `json:"patient_id"`
	Modality          string `json:"modality"`
	StudyDate         string `json:"study_date"`
	Manufacturer      string `json:"manufacturer"`
	FilePath          string `json:"file_path"`
}

// Columns is the tabular column order of a MetadataRecord.
var Columns = []string{
	"study_instance_uid",
	"series_instance_uid",
	"sop_instance_uid",
	"patient_id",
	"modality",
	"study_date",
	"manufacturer",
	"file_path",
}

// Values returns the record's fields in Columns order.
func (r MetadataRecord) Values() []string {
	return []string{
		r.StudyInstanceUID,
		r.SeriesInstanceUID,
		r.SOPInstanceUID,
		r.PatientID,
		r.Modality,
		r.StudyDate,
		r.Manufacturer,
		r.FilePath,
	}
}

func recordFromAttributes(path string, attrs Attributes) MetadataRecord {
	return MetadataRecord{
		StudyInstanceUID:  attrs.Get(KeywordStudyInstanceUID),
		SeriesInstanceUID: attrs.Get(KeywordSeriesInstanceUID),
		SOPInstanceUID:    attrs.Get(KeywordSOPInstanceUID),
		PatientID:         attrs.Get(KeywordPatientID),
		Modality:          attrs.Get(KeywordModality),
		StudyDate:         attrs.Get(KeywordStudyDate),
		Manufacturer:      attrs.Get(KeywordManufacturer),
		FilePath:          path,
	}
}
