package imaging

import "errors"

var (
	// ErrUnreadableFile means a file could not be opened or decoded as DICOM,
	// even leniently.
	ErrUnreadableFile = errors.New("unreadable DICOM file")
	// ErrInvalidFormat is returned by a strict decode when the bytes are
	// readable but not a conformant Part 10 file.
	ErrInvalidFormat = errors.New("invalid DICOM format")
	// ErrMissingCapability is returned when no Decoder is supplied.
	ErrMissingCapability = errors.New("DICOM decoding capability unavailable")
)
