package imaging

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ehr/theranostics/internal/imaging/synth"
)

func testInstance() synth.Instance {
	return synth.Instance{
		PatientID:         "TESTPATIENT",
		Modality:          "CT",
		StudyDate:         "20250101",
		Manufacturer:      "TESTMANU",
		StudyInstanceUID:  "1.2.826.0.1.1",
		SeriesInstanceUID: "1.2.826.0.1.2",
		SOPInstanceUID:    "1.2.826.0.1.3",
		SOPClassUID:       synth.CTImageStorage,
	}
}

func TestParseLenient_Layouts(t *testing.T) {
	inst := testInstance()
	tests := []struct {
		name string
		opts []synth.Option
	}{
		{"conformant", nil},
		{"no preamble", []synth.Option{synth.WithoutPreamble()}},
		{"no group length", []synth.Option{synth.WithoutPreamble(), synth.WithoutGroupLength()}},
		{"implicit with meta", []synth.Option{synth.WithImplicitVR()}},
		{"bare explicit", []synth.Option{synth.WithoutFileMeta()}},
		{"bare implicit", []synth.Option{synth.WithoutFileMeta(), synth.WithImplicitVR()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs, err := parseLenient(synth.Encode(inst, tt.opts...))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			rec := recordFromAttributes("x.dcm", attrs)
			want := MetadataRecord{
				StudyInstanceUID:  inst.StudyInstanceUID,
				SeriesInstanceUID: inst.SeriesInstanceUID,
				SOPInstanceUID:    inst.SOPInstanceUID,
				PatientID:         inst.PatientID,
				Modality:          inst.Modality,
				StudyDate:         inst.StudyDate,
				Manufacturer:      inst.Manufacturer,
				FilePath:          "x.dcm",
			}
			if rec != want {
				t.Errorf("expected %+v, got %+v", want, rec)
			}
		})
	}
}

func TestParseLenient_Junk(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		[]byte("this is definitely not a DICOM file\n"),
		make([]byte, 512),
	} {
		_, err := parseLenient(data)
		if !errors.Is(err, ErrUnreadableFile) {
			t.Errorf("expected ErrUnreadableFile for %q, got %v", data, err)
		}
	}
}

func TestParseLenient_Truncated(t *testing.T) {
	data := synth.Encode(testInstance(), synth.WithoutPreamble())
	// Cut into the final element, (0020,000E).
	attrs, err := parseLenient(data[:len(data)-4])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attrs.Get(KeywordPatientID) != "TESTPATIENT" {
		t.Errorf("expected patient id before truncation, got %q", attrs.Get(KeywordPatientID))
	}
	if attrs.Get(KeywordSeriesInstanceUID) != "" {
		t.Errorf("expected truncated series uid to be absent, got %q", attrs.Get(KeywordSeriesInstanceUID))
	}
}

func explicitElement(group, elem uint16, vr string, value []byte, undefined bool) []byte {
	b := binary.LittleEndian.AppendUint16(nil, group)
	b = binary.LittleEndian.AppendUint16(b, elem)
	b = append(b, vr...)
	if longVRs[vr] {
		b = append(b, 0, 0)
		if undefined {
			b = binary.LittleEndian.AppendUint32(b, undefinedLength)
		} else {
			b = binary.LittleEndian.AppendUint32(b, uint32(len(value)))
		}
	} else {
		b = binary.LittleEndian.AppendUint16(b, uint16(len(value)))
	}
	return append(b, value...)
}

func itemHeader(elem uint16, length uint32) []byte {
	b := binary.LittleEndian.AppendUint16(nil, groupItem)
	b = binary.LittleEndian.AppendUint16(b, elem)
	return binary.LittleEndian.AppendUint32(b, length)
}

func TestParseLenient_SkipsNestedSequences(t *testing.T) {
	var data []byte
	data = append(data, explicitElement(0x0008, 0x0060, "CS", []byte("CT"), false)...)
	data = append(data, explicitElement(0x0008, 0x1115, "SQ", nil, true)...)
	data = append(data, itemHeader(itemTag, undefinedLength)...)
	data = append(data, explicitElement(0x0020, 0x000D, "UI", []byte("9.9\x00"), false)...)
	data = append(data, itemHeader(itemDelimitationTag, 0)...)
	data = append(data, itemHeader(sequenceDelimitation, 0)...)
	data = append(data, explicitElement(0x0010, 0x0020, "LO", []byte("P1"), false)...)

	attrs, err := parseLenient(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attrs.Get(KeywordModality) != "CT" {
		t.Errorf("expected modality CT, got %q", attrs.Get(KeywordModality))
	}
	if attrs.Get(KeywordPatientID) != "P1" {
		t.Errorf("expected patient id after sequence, got %q", attrs.Get(KeywordPatientID))
	}
	if attrs.Get(KeywordStudyInstanceUID) != "" {
		t.Errorf("expected nested study uid to be ignored, got %q", attrs.Get(KeywordStudyInstanceUID))
	}
}

func TestFirstValue(t *testing.T) {
	if got := firstValue([]byte(`ORIGINAL\PRIMARY `)); got != "ORIGINAL" {
		t.Errorf("expected ORIGINAL, got %q", got)
	}
	if got := firstValue([]byte("1.2.3\x00")); got != "1.2.3" {
		t.Errorf("expected 1.2.3, got %q", got)
	}
}
