package imaging

import "strings"

// Attribute keywords read from every file.
const (
	KeywordStudyInstanceUID  = "StudyInstanceUID"
	KeywordSeriesInstanceUID = "SeriesInstanceUID"
	KeywordSOPInstanceUID    = "SOPInstanceUID"
	KeywordPatientID         = "PatientID"
	KeywordModality          = "Modality"
	KeywordStudyDate         = "StudyDate"
	KeywordManufacturer      = "Manufacturer"
)

// Attributes maps a DICOM keyword to the first value of that element.
type Attributes map[string]string

// Get returns the value for keyword with space and NUL padding removed.
func (a Attributes) Get(keyword string) string {
	return trimValue(a[keyword])
}

// Decoder reads header attributes from a file on disk.
//
// Strict must fail with an error wrapping ErrInvalidFormat when the file is
// readable but not conformant, so the caller can retry with Lenient. Any
// other failure should wrap ErrUnreadableFile.
type Decoder interface {
	Strict(path string) (Attributes, error)
	Lenient(path string) (Attributes, error)
}

func trimValue(s string) string {
	return strings.Trim(s, " \x00")
}
