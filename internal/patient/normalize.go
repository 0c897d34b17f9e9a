// Package patient flattens FHIR Patient resources and writes them as
// NDJSON or CSV.
package patient

import (
	"encoding/json"
	"strings"

	"github.com/ehr/theranostics/pkg/fhirmodels"
)

// Record is the flat form of a Patient resource.
type Record struct {
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
	BirthDate string `json:"birthDate"`
}

// Columns is the CSV header of a Record.
var Columns = []string{"patient_id", "name", "birthDate"}

func (r Record) Values() []string {
	return []string{r.PatientID, r.Name, r.BirthDate}
}

// Normalize never fails: missing or mistyped fields become "".
//
// patient_id is the resource id, else the value of the first identifier.
// name joins the given parts and the family of the first name entry,
// skipping empty parts.
func Normalize(r fhirmodels.Resource) Record {
	return Record{
		PatientID: patientID(r),
		Name:      displayName(r),
		BirthDate: stringValue(r["birthDate"]),
	}
}

func patientID(r fhirmodels.Resource) string {
	if id := stringValue(r["id"]); id != "" {
		return id
	}
	ids, _ := r["identifier"].([]any)
	if len(ids) == 0 {
		return ""
	}
	first, _ := ids[0].(map[string]any)
	return stringValue(first["value"])
}

func displayName(r fhirmodels.Resource) string {
	names, _ := r["name"].([]any)
	if len(names) == 0 {
		return ""
	}
	first, _ := names[0].(map[string]any)

	var parts []string
	given, _ := first["given"].([]any)
	for _, g := range given {
		if s := stringValue(g); s != "" {
			parts = append(parts, s)
		}
	}
	if family := stringValue(first["family"]); family != "" {
		parts = append(parts, family)
	}
	return strings.Join(parts, " ")
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
