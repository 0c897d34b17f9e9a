package imaging

import (
	"errors"
	"fmt"
)

// Extractor turns one file into a MetadataRecord.
type Extractor struct {
	dec Decoder
}

// NewExtractor returns ErrMissingCapability when dec is nil.
func NewExtractor(dec Decoder) (*Extractor, error) {
	if dec == nil {
		return nil, ErrMissingCapability
	}
	return &Extractor{dec: dec}, nil
}

// Extract decodes the header of the file at path. A strict decode is tried
// first; a format failure falls back to a lenient decode. Every returned
// error wraps ErrUnreadableFile.
func (e *Extractor) Extract(path string) (MetadataRecord, error) {
	attrs, err := e.dec.Strict(path)
	if err == nil {
		return recordFromAttributes(path, attrs), nil
	}
	if !errors.Is(err, ErrInvalidFormat) {
		return MetadataRecord{}, unreadable(path, err)
	}

	attrs, lerr := e.dec.Lenient(path)
	if lerr != nil {
		return MetadataRecord{}, unreadable(path, lerr)
	}
	return recordFromAttributes(path, attrs), nil
}

func unreadable(path string, err error) error {
	if errors.Is(err, ErrUnreadableFile) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreadableFile, path, err)
}
