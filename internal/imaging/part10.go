package imaging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// DefaultLenientReadLimit bounds how much of a file the lenient path reads.
const DefaultLenientReadLimit = 1 << 20

var strictTags = map[string]tag.Tag{
	KeywordStudyInstanceUID:  tag.StudyInstanceUID,
	KeywordSeriesInstanceUID: tag.SeriesInstanceUID,
	KeywordSOPInstanceUID:    tag.SOPInstanceUID,
	KeywordPatientID:         tag.PatientID,
	KeywordModality:          tag.Modality,
	KeywordStudyDate:         tag.StudyDate,
	KeywordManufacturer:      tag.Manufacturer,
}

// PartTenDecoder is the production Decoder. Strict decoding uses
// github.com/suyashkumar/dicom with pixel data skipped; lenient decoding
// reads only the leading LenientReadLimit bytes.
type PartTenDecoder struct {
	LenientReadLimit int64
}

// NewPartTenDecoder returns a decoder; a non-positive limit selects
// DefaultLenientReadLimit.
func NewPartTenDecoder(lenientReadLimit int64) *PartTenDecoder {
	if lenientReadLimit <= 0 {
		lenientReadLimit = DefaultLenientReadLimit
	}
	return &PartTenDecoder{LenientReadLimit: lenientReadLimit}
}

// Strict parses path as a conformant Part 10 file.
func (d *PartTenDecoder) Strict(path string) (attrs Attributes, err error) {
	f, size, err := openRegular(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	defer func() {
		if r := recover(); r != nil {
			attrs, err = nil, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, path, r)
		}
	}()

	ds, err := dicom.Parse(f, size, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, path, err)
	}

	attrs = Attributes{}
	for kw, t := range strictTags {
		if v := stringByTag(&ds, t); v != "" {
			attrs[kw] = v
		}
	}
	return attrs, nil
}

// Lenient reads top-level attributes from a file Strict rejected.
func (d *PartTenDecoder) Lenient(path string) (Attributes, error) {
	f, _, err := openRegular(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	limit := d.LenientReadLimit
	if limit <= 0 {
		limit = DefaultLenientReadLimit
	}
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnreadableFile, path, err)
	}
	return parseLenient(data)
}

func openRegular(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", ErrUnreadableFile, path)
	}
	return f, info.Size(), nil
}

// stringByTag returns the first string value of t, or "" when the element
// is absent or not string valued.
func stringByTag(ds *dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return ""
	}
	if el.Value.ValueType() != dicom.Strings {
		return ""
	}
	vals := dicom.MustGetStrings(el.Value)
	if len(vals) == 0 {
		return ""
	}
	return strings.Trim(vals[0], " \x00")
}
