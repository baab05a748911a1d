package fhir

import (
	"strings"
)

// SearchPrefix represents a FHIR search prefix for ordered values.
type SearchPrefix string

const (
	PrefixEq SearchPrefix = "eq"
	PrefixNe SearchPrefix = "ne"
	PrefixGt SearchPrefix = "gt"
	PrefixLt SearchPrefix = "lt"
	PrefixGe SearchPrefix = "ge"
	PrefixLe SearchPrefix = "le"
	PrefixSa SearchPrefix = "sa" // starts after
	PrefixEb SearchPrefix = "eb" // ends before
	PrefixAp SearchPrefix = "ap" // approximately
)

// SearchModifier represents a FHIR search modifier.
type SearchModifier string

const (
	ModifierExact      SearchModifier = "exact"
	ModifierContains   SearchModifier = "contains"
	ModifierText       SearchModifier = "text"
	ModifierNot        SearchModifier = "not"
	ModifierAbove      SearchModifier = "above"
	ModifierBelow      SearchModifier = "below"
	ModifierIn         SearchModifier = "in"
	ModifierNotIn      SearchModifier = "not-in"
	ModifierOfType     SearchModifier = "of-type"
	ModifierMissing    SearchModifier = "missing"
	ModifierIdentifier SearchModifier = "identifier"
	ModifierIterate    SearchModifier = "iterate"
)

var searchPrefixes = map[SearchPrefix]bool{
	PrefixEq: true,
	PrefixNe: true,
	PrefixGt: true,
	PrefixLt: true,
	PrefixGe: true,
	PrefixLe: true,
	PrefixSa: true,
	PrefixEb: true,
	PrefixAp: true,
}

var searchModifiers = map[SearchModifier]bool{
	ModifierExact:      true,
	ModifierContains:   true,
	ModifierText:       true,
	ModifierNot:        true,
	ModifierAbove:      true,
	ModifierBelow:      true,
	ModifierIn:         true,
	ModifierNotIn:      true,
	ModifierOfType:     true,
	ModifierMissing:    true,
	ModifierIdentifier: true,
	ModifierIterate:    true,
}

// IsSearchPrefix reports whether s is one of the FHIR ordered-value prefixes.
func IsSearchPrefix(s string) bool {
	return searchPrefixes[SearchPrefix(s)]
}

// IsSearchModifier reports whether s is one of the standard FHIR modifiers.
func IsSearchModifier(s string) bool {
	return searchModifiers[SearchModifier(s)]
}

// ParsedSearch holds a parsed search parameter value with its prefix.
// Explicit is true when the prefix was present in the raw value.
type ParsedSearch struct {
	Prefix   SearchPrefix
	Value    string
	Explicit bool
}

// ParseSearchValue extracts the prefix from a FHIR search value.
// Examples: "gt2023-01-01" -> (gt, "2023-01-01"), "100" -> (eq, "100").
//
// Prefixes only apply to ordered literals (dates, numbers, quantities), so a
// prefix is recognised only when followed by a digit or sign. "general" stays
// an equality value. An explicit "eq" in front of a value that itself looks
// prefixed is stripped: "eqgt5" -> (eq, "gt5").
func ParseSearchValue(raw string) ParsedSearch {
	if p, ok := orderedPrefix(raw); ok {
		return ParsedSearch{Prefix: p, Value: raw[2:], Explicit: true}
	}
	if strings.HasPrefix(raw, string(PrefixEq)) {
		if _, ok := orderedPrefix(raw[2:]); ok {
			return ParsedSearch{Prefix: PrefixEq, Value: raw[2:], Explicit: true}
		}
	}
	return ParsedSearch{Prefix: PrefixEq, Value: raw}
}

// FormatSearchValue is the inverse of ParseSearchValue. Equality values are
// written without a prefix unless they would be read back as prefixed.
func FormatSearchValue(prefix SearchPrefix, value string) string {
	if prefix == "" || prefix == PrefixEq {
		if _, ok := orderedPrefix(value); ok {
			return string(PrefixEq) + value
		}
		return value
	}
	return string(prefix) + value
}

func orderedPrefix(raw string) (SearchPrefix, bool) {
	if len(raw) < 3 {
		return "", false
	}
	p := SearchPrefix(raw[:2])
	if !searchPrefixes[p] {
		return "", false
	}
	switch c := raw[2]; {
	case c >= '0' && c <= '9', c == '-', c == '+':
		return p, true
	}
	return "", false
}

// ParseParamModifier splits a parameter name from its modifier.
// Examples: "name:exact" -> ("name", "exact"), "code" -> ("code", "")
func ParseParamModifier(paramName string) (string, SearchModifier) {
	parts := strings.SplitN(paramName, ":", 2)
	if len(parts) == 2 {
		return parts[0], SearchModifier(parts[1])
	}
	return parts[0], ""
}

// FormatParamModifier joins a parameter name and modifier back together.
func FormatParamModifier(paramName string, modifier SearchModifier) string {
	if modifier == "" {
		return paramName
	}
	return paramName + ":" + string(modifier)
}
