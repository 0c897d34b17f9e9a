package imaging

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	implicitVRLittleEndian = "1.2.840.10008.1.2"
	undefinedLength        = 0xFFFFFFFF
	groupItem              = 0xFFFE
	itemTag                = 0xE000
	itemDelimitationTag    = 0xE00D
	sequenceDelimitation   = 0xE0DD
	preambleLength         = 128
)

type dataTag struct {
	group, element uint16
}

func (t dataTag) less(o dataTag) bool {
	if t.group != o.group {
		return t.group < o.group
	}
	return t.element < o.element
}

var (
	pixelDataTag = dataTag{0x7FE0, 0x0010}

	keywordTags = map[dataTag]string{
		{0x0008, 0x0018}: KeywordSOPInstanceUID,
		{0x0008, 0x0020}: KeywordStudyDate,
		{0x0008, 0x0060}: KeywordModality,
		{0x0008, 0x0070}: KeywordManufacturer,
		{0x0010, 0x0020}: KeywordPatientID,
		{0x0020, 0x000D}: KeywordStudyInstanceUID,
		{0x0020, 0x000E}: KeywordSeriesInstanceUID,
	}

	// Explicit VRs encoded with two reserved bytes and a 32-bit length.
	longVRs = map[string]bool{
		"OB": true, "OD": true, "OF": true, "OL": true, "OV": true, "OW": true,
		"SQ": true, "SV": true, "UC": true, "UN": true, "UR": true, "UT": true, "UV": true,
	}

	shortVRs = map[string]bool{
		"AE": true, "AS": true, "AT": true, "CS": true, "DA": true, "DS": true,
		"DT": true, "FL": true, "FD": true, "IS": true, "LO": true, "LT": true,
		"PN": true, "SH": true, "SL": true, "SS": true, "ST": true, "TM": true,
		"UI": true, "UL": true, "US": true,
	}
)

func validVR(vr string) bool {
	return shortVRs[vr] || longVRs[vr]
}

// datasetReader walks a little endian dataset one element at a time.
// Lengths are bounds-checked against the buffer; a truncated element ends
// the walk without error because only a leading slice of the file is read.
type datasetReader struct {
	data     []byte
	offset   int
	explicit bool
}

type rawElement struct {
	tag    dataTag
	vr     string
	length uint32
	value  []byte
}

func (r *datasetReader) next() (rawElement, bool) {
	d := r.data
	off := r.offset
	if off+8 > len(d) {
		return rawElement{}, false
	}
	t := dataTag{
		group:   binary.LittleEndian.Uint16(d[off:]),
		element: binary.LittleEndian.Uint16(d[off+2:]),
	}

	// Item and delimiter tags never carry a VR.
	if t.group == groupItem {
		length := binary.LittleEndian.Uint32(d[off+4:])
		r.offset = off + 8
		el := rawElement{tag: t, length: length}
		if t.element == itemTag && length != undefinedLength {
			if !r.skip(length) {
				return rawElement{}, false
			}
		}
		return el, true
	}

	var (
		vr          string
		length      uint32
		valueOffset int
	)
	switch {
	case r.explicit:
		vr = string(d[off+4 : off+6])
		if !validVR(vr) {
			return rawElement{}, false
		}
		if longVRs[vr] {
			if off+12 > len(d) {
				return rawElement{}, false
			}
			length = binary.LittleEndian.Uint32(d[off+8:])
			valueOffset = off + 12
		} else {
			length = uint32(binary.LittleEndian.Uint16(d[off+6:]))
			valueOffset = off + 8
		}
	default:
		length = binary.LittleEndian.Uint32(d[off+4:])
		valueOffset = off + 8
	}

	el := rawElement{tag: t, vr: vr, length: length}
	r.offset = valueOffset
	if length == undefinedLength {
		return el, true
	}
	if uint64(valueOffset)+uint64(length) > uint64(len(d)) {
		return rawElement{}, false
	}
	el.value = d[valueOffset : valueOffset+int(length)]
	r.offset = valueOffset + int(length)
	return el, true
}

func (r *datasetReader) skip(n uint32) bool {
	if uint64(r.offset)+uint64(n) > uint64(len(r.data)) {
		return false
	}
	r.offset += int(n)
	return true
}

// looksExplicit reports whether the element at offset carries a VR.
func looksExplicit(data []byte, offset int) bool {
	if offset+6 > len(data) {
		return false
	}
	return validVR(string(data[offset+4 : offset+6]))
}

// skipFileMeta consumes group 0x0002 elements, which are always explicit VR
// little endian, and returns the transfer syntax found there. A missing
// group length element is tolerated.
func skipFileMeta(data []byte, offset int) (int, string) {
	r := &datasetReader{data: data, offset: offset, explicit: true}
	var transferSyntax string
	for r.offset+4 <= len(data) && binary.LittleEndian.Uint16(data[r.offset:]) == 0x0002 {
		el, ok := r.next()
		if !ok || el.length == undefinedLength {
			break
		}
		if el.tag.element == 0x0010 {
			transferSyntax = trimValue(string(el.value))
		}
	}
	return r.offset, transferSyntax
}

// datasetStart locates the first dataset element, accepting files with or
// without the 128 byte preamble and with or without a DICM prefix.
func datasetStart(data []byte) (int, string) {
	offset := 0
	switch {
	case len(data) >= preambleLength+4 && bytes.Equal(data[preambleLength:preambleLength+4], []byte("DICM")):
		offset = preambleLength + 4
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("DICM")):
		offset = 4
	}
	if offset+2 <= len(data) && binary.LittleEndian.Uint16(data[offset:]) == 0x0002 {
		return skipFileMeta(data, offset)
	}
	return offset, ""
}

// parseLenient reads the top-level keyword attributes from a possibly
// non-conformant dataset. It fails when nothing resembling a patient,
// study, series or equipment element is found.
func parseLenient(data []byte) (Attributes, error) {
	offset, transferSyntax := datasetStart(data)
	explicit := looksExplicit(data, offset)
	if transferSyntax == implicitVRLittleEndian {
		explicit = false
	}

	r := &datasetReader{data: data, offset: offset, explicit: explicit}
	attrs := Attributes{}
	depth := 0
	plausible := false
	var prev dataTag

	for {
		el, ok := r.next()
		if !ok {
			break
		}
		if el.tag.group == groupItem {
			switch el.tag.element {
			case itemTag:
				if el.length == undefinedLength {
					depth++
				}
			case itemDelimitationTag, sequenceDelimitation:
				if depth > 0 {
					depth--
				}
			}
			continue
		}
		if el.length == undefinedLength {
			if el.tag == pixelDataTag {
				break
			}
			depth++
			continue
		}
		if depth > 0 {
			continue
		}
		if el.tag.less(prev) || el.tag == pixelDataTag {
			break
		}
		prev = el.tag

		switch el.tag.group {
		case 0x0008, 0x0010, 0x0018, 0x0020:
			plausible = true
		}
		if kw, ok := keywordTags[el.tag]; ok {
			attrs[kw] = firstValue(el.value)
		}
	}

	if !plausible {
		return nil, fmt.Errorf("%w: no recognisable dataset elements", ErrUnreadableFile)
	}
	return attrs, nil
}

func firstValue(b []byte) string {
	v := string(b)
	if i := strings.IndexByte(v, '\\'); i >= 0 {
		v = v[:i]
	}
	return trimValue(v)
}
