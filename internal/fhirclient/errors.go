package fhirclient

import (
	"errors"
	"fmt"
)

// ErrPageLimit is returned when a search needs more pages than allowed.
var ErrPageLimit = errors.New("page limit exceeded")

// RemoteError describes a failed page request. StatusCode is zero for
// transport and decode failures, in which case Err holds the cause.
type RemoteError struct {
	URL         string
	StatusCode  int
	Diagnostics string
	Err         error
}

func (e *RemoteError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Diagnostics != "":
		return fmt.Sprintf("fhir request %s: status %d: %s", e.URL, e.StatusCode, e.Diagnostics)
	case e.StatusCode != 0:
		return fmt.Sprintf("fhir request %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fhir request %s: %v", e.URL, e.Err)
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
