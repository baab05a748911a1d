package searchspec

import "github.com/ehr/scheduling/internal/platform/fhir"

// SystemDefaultResourceType is used when neither the navigation nor the
// preference store names a resource type.
const SystemDefaultResourceType = "Task"

// LastUpdated is the FHIR meta.lastUpdated search parameter.
const LastUpdated = "_lastUpdated"

// FallbackFields are shown for resource types without a FieldTable row.
var FallbackFields = []string{"_id", LastUpdated}

// FieldTable maps a resource type to its default display columns.
type FieldTable map[string][]string

// DefaultFieldTable holds the default columns for the resource types the
// scheduling views list most.
var DefaultFieldTable = FieldTable{
	"Patient":               {"name", "gender", "birthDate", LastUpdated},
	"Practitioner":          {"name", "gender", LastUpdated},
	"Appointment":           {"status", "start", "end", "appointmentType", LastUpdated},
	"Schedule":              {"actor", "active", "planningHorizon", LastUpdated},
	"Slot":                  {"schedule", "status", "start", "end", LastUpdated},
	"Encounter":             {"subject", "status", "class", "period", LastUpdated},
	"Questionnaire":         {"name", "title", "status", LastUpdated},
	"QuestionnaireResponse": {"questionnaire", "subject", "status", "authored", LastUpdated},
}

// Lookup returns a copy of the default fields for resourceType. Lookups are
// case-insensitive for FHIR resource types.
func (t FieldTable) Lookup(resourceType string) []string {
	fields, ok := t[resourceType]
	if !ok {
		fields, ok = t[fhir.CanonicalResourceType(resourceType)]
	}
	if !ok || len(fields) == 0 {
		fields = FallbackFields
	}
	return append([]string(nil), fields...)
}

// DefaultSortRules returns the sort used when nothing else applies: most
// recently updated first.
func DefaultSortRules() []SortRule {
	return []SortRule{{Code: LastUpdated, Descending: true}}
}
