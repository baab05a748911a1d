package fhir

import (
	"strings"
)

// SortSpec represents a single sort directive.
type SortSpec struct {
	Field      string
	Descending bool
}

// ParseSort parses the _sort query parameter value.
// Format: "-date,status" means date DESC, status ASC.
// A leading "-" indicates descending order.
func ParseSort(sortParam string) []SortSpec {
	if sortParam == "" {
		return nil
	}

	parts := strings.Split(sortParam, ",")
	specs := make([]SortSpec, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		spec := SortSpec{}
		if strings.HasPrefix(part, "-") {
			spec.Descending = true
			spec.Field = part[1:]
		} else {
			spec.Field = part
		}

		if spec.Field != "" {
			specs = append(specs, spec)
		}
	}

	return specs
}

// FormatSort renders sort specs as a _sort value, the inverse of ParseSort.
// Returns empty string when there is nothing to sort by.
func FormatSort(specs []SortSpec) string {
	parts := make([]string, 0, len(specs))
	for _, spec := range specs {
		if spec.Field == "" {
			continue
		}
		if spec.Descending {
			parts = append(parts, "-"+spec.Field)
		} else {
			parts = append(parts, spec.Field)
		}
	}
	return strings.Join(parts, ",")
}
