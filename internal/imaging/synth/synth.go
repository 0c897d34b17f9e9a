// Package synth writes small synthetic DICOM files for local testing.
package synth

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// CTImageStorage is the SOP class of generated instances.
	CTImageStorage = "1.2.840.10008.5.1.4.1.1.2"

	implementationClassUID = "2.25.1"
)

// NewUID returns a UUID derived UID under the 2.25 root.
func NewUID() string {
	u := uuid.New()
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}

// Instance holds the attributes written into a synthetic file. Empty
// fields are omitted from the dataset.
type Instance struct {
	PatientID         string
	Modality          string
	StudyDate         string
	Manufacturer      string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	SOPClassUID       string
}

// NewTestInstance returns the standard test instance with fresh UIDs.
func NewTestInstance() Instance {
	return Instance{
		PatientID:         "TESTPATIENT",
		Modality:          "CT",
		StudyDate:         "20250101",
		Manufacturer:      "TESTMANU",
		StudyInstanceUID:  NewUID(),
		SeriesInstanceUID: NewUID(),
		SOPInstanceUID:    NewUID(),
		SOPClassUID:       CTImageStorage,
	}
}

type encoder struct {
	preamble       bool
	meta           bool
	groupLength    bool
	transferSyntax string
}

type Option func(*encoder)

// WithoutPreamble omits the 128 byte preamble and DICM prefix, leaving the
// file meta group at offset 0.
func WithoutPreamble() Option { return func(e *encoder) { e.preamble = false } }

// WithoutGroupLength omits the (0002,0000) group length element.
func WithoutGroupLength() Option { return func(e *encoder) { e.groupLength = false } }

// WithoutFileMeta writes the bare dataset with no preamble or meta group.
func WithoutFileMeta() Option {
	return func(e *encoder) {
		e.preamble = false
		e.meta = false
	}
}

// WithImplicitVR encodes the dataset as implicit VR little endian.
func WithImplicitVR() Option { return func(e *encoder) { e.transferSyntax = ImplicitVRLittleEndian } }

type element struct {
	group, elem uint16
	vr          string
	value       []byte
}

func stringElement(group, elem uint16, vr, v string) element {
	b := []byte(v)
	if len(b)%2 == 1 {
		if vr == "UI" {
			b = append(b, 0x00)
		} else {
			b = append(b, ' ')
		}
	}
	return element{group: group, elem: elem, vr: vr, value: b}
}

// Encode renders inst as a DICOM file. By default the output is a
// conformant Part 10 file in explicit VR little endian.
func Encode(inst Instance, opts ...Option) []byte {
	e := &encoder{preamble: true, meta: true, groupLength: true, transferSyntax: ExplicitVRLittleEndian}
	for _, opt := range opts {
		opt(e)
	}

	var buf bytes.Buffer
	if e.preamble {
		buf.Write(make([]byte, 128))
		buf.WriteString("DICM")
	}
	if e.meta {
		buf.Write(e.fileMeta(inst))
	}

	ds := datasetElements(inst)
	for _, el := range ds {
		if e.transferSyntax == ImplicitVRLittleEndian {
			writeImplicit(&buf, el)
		} else {
			writeExplicit(&buf, el)
		}
	}
	return buf.Bytes()
}

func (e *encoder) fileMeta(inst Instance) []byte {
	sopClass := inst.SOPClassUID
	if sopClass == "" {
		sopClass = CTImageStorage
	}
	meta := []element{
		{group: 0x0002, elem: 0x0001, vr: "OB", value: []byte{0x00, 0x01}},
		stringElement(0x0002, 0x0002, "UI", sopClass),
		stringElement(0x0002, 0x0003, "UI", inst.SOPInstanceUID),
		stringElement(0x0002, 0x0010, "UI", e.transferSyntax),
		stringElement(0x0002, 0x0012, "UI", implementationClassUID),
	}

	var body bytes.Buffer
	for _, el := range meta {
		writeExplicit(&body, el)
	}
	if !e.groupLength {
		return body.Bytes()
	}

	var out bytes.Buffer
	writeExplicit(&out, element{
		group: 0x0002, elem: 0x0000, vr: "UL",
		value: binary.LittleEndian.AppendUint32(nil, uint32(body.Len())),
	})
	out.Write(body.Bytes())
	return out.Bytes()
}

func datasetElements(inst Instance) []element {
	fields := []struct {
		group, elem uint16
		vr, value   string
	}{
		{0x0008, 0x0016, "UI", inst.SOPClassUID},
		{0x0008, 0x0018, "UI", inst.SOPInstanceUID},
		{0x0008, 0x0020, "DA", inst.StudyDate},
		{0x0008, 0x0060, "CS", inst.Modality},
		{0x0008, 0x0070, "LO", inst.Manufacturer},
		{0x0010, 0x0020, "LO", inst.PatientID},
		{0x0020, 0x000D, "UI", inst.StudyInstanceUID},
		{0x0020, 0x000E, "UI", inst.SeriesInstanceUID},
	}
	var out []element
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		out = append(out, stringElement(f.group, f.elem, f.vr, f.value))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].group != out[j].group {
			return out[i].group < out[j].group
		}
		return out[i].elem < out[j].elem
	})
	return out
}

func writeExplicit(buf *bytes.Buffer, el element) {
	buf.Write(binary.LittleEndian.AppendUint16(nil, el.group))
	buf.Write(binary.LittleEndian.AppendUint16(nil, el.elem))
	buf.WriteString(el.vr)
	switch el.vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "SV", "UC", "UN", "UR", "UT", "UV":
		buf.Write([]byte{0x00, 0x00})
		buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(el.value))))
	default:
		buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(el.value))))
	}
	buf.Write(el.value)
}

func writeImplicit(buf *bytes.Buffer, el element) {
	buf.Write(binary.LittleEndian.AppendUint16(nil, el.group))
	buf.Write(binary.LittleEndian.AppendUint16(nil, el.elem))
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(el.value))))
	buf.Write(el.value)
}

// WriteFile encodes inst to path, creating parent directories.
func WriteFile(path string, inst Instance, opts ...Option) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, Encode(inst, opts...), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Generate writes count test instances named test_1.dcm .. test_N.dcm into
// dir and returns their paths.
func Generate(dir string, count int, opts ...Option) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("count must be at least 1, got %d", count)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	paths := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		p := filepath.Join(dir, fmt.Sprintf("test_%d.dcm", i))
		if err := WriteFile(p, NewTestInstance(), opts...); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
