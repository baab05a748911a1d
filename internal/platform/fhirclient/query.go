package fhirclient

import (
	"net/url"
	"strings"

	"github.com/ehr/scheduling/internal/searchspec"
	"github.com/ehr/scheduling/pkg/pagination"
)

// ParamElements is the FHIR summary parameter the column list maps onto.
const ParamElements = "_elements"

// Query renders s as a FHIR search query string without the leading "?".
// Columns become _elements and the page size is clamped to
// pagination.MaxLimit.
func Query(s searchspec.Spec) string {
	rest := s.Clone()
	rest.Fields = nil
	p := pagination.New(rest.Count, rest.Offset)
	rest.Count, rest.Offset = p.Limit, p.Offset

	q := strings.TrimPrefix(searchspec.Serialize(rest), "?")

	elements := Elements(s.Fields)
	if len(elements) == 0 {
		return q
	}
	head := ParamElements + "=" + strings.Join(elements, ",")
	if q == "" {
		return head
	}
	return head + "&" + q
}

// Elements maps column codes to top-level element names. Search parameter
// codes that live under meta collapse onto it.
func Elements(fields []string) []string {
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		e := f
		switch f {
		case "_id":
			e = "id"
		case "_lastUpdated", "_tag", "_profile", "_security":
			e = "meta"
		default:
			if strings.HasPrefix(f, "_") {
				continue
			}
			e, _, _ = strings.Cut(f, ".")
		}
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, url.QueryEscape(e))
	}
	return out
}
