// Package searchspec turns navigation paths into FHIR search specifications
// and back. It parses a path and query string into a Spec, fills in defaults
// from a preference store, renders the canonical URL of a resolved Spec and
// decides whether a navigation should be accepted or redirected.
package searchspec

import (
	"bytes"
	"encoding/json"

	"github.com/ehr/scheduling/internal/platform/fhir"
)

// Operator is a FHIR search operator. Ordered-value operators are written as
// a value prefix ("gt2024-01-01"), all others as a parameter modifier
// ("name:contains=smi"). Operators outside the standard set are carried as
// modifiers without interpretation.
type Operator string

const (
	Equals              Operator = Operator(fhir.PrefixEq)
	NotEquals           Operator = Operator(fhir.PrefixNe)
	GreaterThan         Operator = Operator(fhir.PrefixGt)
	LessThan            Operator = Operator(fhir.PrefixLt)
	GreaterThanOrEquals Operator = Operator(fhir.PrefixGe)
	LessThanOrEquals    Operator = Operator(fhir.PrefixLe)
	StartsAfter         Operator = Operator(fhir.PrefixSa)
	EndsBefore          Operator = Operator(fhir.PrefixEb)
	Approximately       Operator = Operator(fhir.PrefixAp)

	Contains   Operator = Operator(fhir.ModifierContains)
	Exact      Operator = Operator(fhir.ModifierExact)
	Text       Operator = Operator(fhir.ModifierText)
	Not        Operator = Operator(fhir.ModifierNot)
	Above      Operator = Operator(fhir.ModifierAbove)
	Below      Operator = Operator(fhir.ModifierBelow)
	In         Operator = Operator(fhir.ModifierIn)
	NotIn      Operator = Operator(fhir.ModifierNotIn)
	OfType     Operator = Operator(fhir.ModifierOfType)
	Missing    Operator = Operator(fhir.ModifierMissing)
	Identifier Operator = Operator(fhir.ModifierIdentifier)
	Iterate    Operator = Operator(fhir.ModifierIterate)
)

// IsPrefix reports whether the operator is rendered as a value prefix.
// The zero Operator is treated as Equals; FilterList stores it as Equals.
func (o Operator) IsPrefix() bool {
	return o == "" || fhir.IsSearchPrefix(string(o))
}

// IsStandard reports whether the operator belongs to the FHIR R4 set.
func (o Operator) IsStandard() bool {
	return fhir.IsSearchPrefix(string(o)) || fhir.IsSearchModifier(string(o))
}

// Filter is a predicate over one search parameter.
type Filter struct {
	Code     string   `json:"code"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// SortRule orders results by one search parameter. The first rule of a list
// is the primary key.
type SortRule struct {
	Code       string `json:"code"`
	Descending bool   `json:"descending,omitempty"`
}

type filtersState uint8

const (
	filtersUnset filtersState = iota
	filtersEmpty
	filtersPopulated
)

// Filters is the filter list of a Spec. It distinguishes "no filters given"
// (Unset, the zero value) from "the user asked for no filters" (Empty).
// Only an Unset list may be replaced by the last-used filters.
type Filters struct {
	state filtersState
	list  []Filter
}

// NoFilters returns an explicitly empty filter list.
func NoFilters() Filters {
	return Filters{state: filtersEmpty}
}

// FilterList returns a populated filter list, or an explicitly empty one
// when fs is empty. A filter without an operator is stored as Equals, the
// form Parse produces.
func FilterList(fs ...Filter) Filters {
	if len(fs) == 0 {
		return NoFilters()
	}
	list := append([]Filter(nil), fs...)
	for i := range list {
		if list[i].Operator == "" {
			list[i].Operator = Equals
		}
	}
	return Filters{state: filtersPopulated, list: list}
}

// IsUnset reports whether no filter list was given at all.
func (f Filters) IsUnset() bool { return f.state == filtersUnset }

// Len returns the number of filters.
func (f Filters) Len() int { return len(f.list) }

// List returns a copy of the filters.
func (f Filters) List() []Filter {
	if len(f.list) == 0 {
		return nil
	}
	return append([]Filter(nil), f.list...)
}

// With returns a copy of f with fl appended.
func (f Filters) With(fl Filter) Filters {
	return FilterList(append(f.List(), fl)...)
}

func (f Filters) clone() Filters {
	return Filters{state: f.state, list: f.List()}
}

// MarshalJSON writes Unset as null and Empty as [].
func (f Filters) MarshalJSON() ([]byte, error) {
	switch f.state {
	case filtersUnset:
		return []byte("null"), nil
	case filtersEmpty:
		return []byte("[]"), nil
	}
	return json.Marshal(f.list)
}

// UnmarshalJSON reverses MarshalJSON.
func (f *Filters) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Filters{}
		return nil
	}
	var list []Filter
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = FilterList(list...)
	return nil
}

// Spec is a search specification: which resources to list, which columns to
// show, how to filter and how to order them.
type Spec struct {
	ResourceType string     `json:"resourceType"`
	Fields       []string   `json:"fields,omitempty"`
	Filters      Filters    `json:"filters"`
	SortRules    []SortRule `json:"sortRules,omitempty"`
	Offset       int        `json:"offset,omitempty"`
	Count        int        `json:"count,omitempty"`
	Total        string     `json:"total,omitempty"`
}

// IsResolved reports whether the spec is ready to execute.
func (s Spec) IsResolved() bool {
	return s.ResourceType != "" && len(s.Fields) > 0
}

// Clone returns a deep copy of s.
func (s Spec) Clone() Spec {
	out := s
	if s.Fields != nil {
		out.Fields = append([]string(nil), s.Fields...)
	}
	if s.SortRules != nil {
		out.SortRules = append([]SortRule(nil), s.SortRules...)
	}
	out.Filters = s.Filters.clone()
	return out
}
