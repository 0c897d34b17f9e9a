package fhirmodels

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Resource type discriminators used by the ingestion clients.
const (
	ResourceTypeBundle           = "Bundle"
	ResourceTypePatient          = "Patient"
	ResourceTypeOperationOutcome = "OperationOutcome"
)

// Bundle link relations per FHIR R4.
const (
	LinkRelationSelf     = "self"
	LinkRelationNext     = "next"
	LinkRelationPrevious = "previous"
)

// MIME types accepted by FHIR servers.
const (
	MIMEApplicationFHIRJSON = "application/fhir+json"
	MIMEApplicationJSON     = "application/json"
)

// Resource is an untyped FHIR resource kept exactly as the server sent it.
type Resource map[string]any

// ResourceType returns the resourceType discriminator or "".
func (r Resource) ResourceType() string {
	rt, _ := r["resourceType"].(string)
	return rt
}

// ID returns the logical id or "".
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Bundle is the paging envelope returned by FHIR search interactions.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// LinkURL returns the url of the first link with the given relation.
func (b *Bundle) LinkURL(relation string) (string, bool) {
	for _, l := range b.Link {
		if l.Relation == relation {
			return l.URL, true
		}
	}
	return "", false
}

// RawResource is a resource as the server sent it, with its decoded form
// for field access.
type RawResource struct {
	Raw json.RawMessage
	Resource
}

// NewRawResource decodes raw. Numbers are kept as json.Number so field
// values keep their representation.
func NewRawResource(raw []byte) (RawResource, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return RawResource{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var r Resource
	if err := dec.Decode(&r); err != nil {
		return RawResource{}, fmt.Errorf("decode bundle entry resource: %w", err)
	}
	return RawResource{Raw: json.RawMessage(raw), Resource: r}, nil
}

// DecodeResource decodes an entry's resource. An entry without a resource
// yields a zero RawResource.
func (e BundleEntry) DecodeResource() (RawResource, error) {
	return NewRawResource(e.Resource)
}

// OperationOutcome is the error payload FHIR servers return on failure.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Diagnostics returns the first non-empty issue diagnostics.
func (o *OperationOutcome) Diagnostics() string {
	for _, is := range o.Issue {
		if is.Diagnostics != "" {
			return is.Diagnostics
		}
	}
	return ""
}
