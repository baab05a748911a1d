package searchspec

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/ehr/scheduling/internal/platform/fhir"
)

// Control parameters. Every other query parameter, including FHIR common
// parameters such as _id and _lastUpdated, is a filter.
const (
	ParamFields = "_fields"
	ParamSort   = "_sort"
	ParamOffset = "_offset"
	ParamCount  = "_count"
	ParamTotal  = "_total"
)

var readableEscapes = strings.NewReplacer(
	"%2F", "/",
	"%3A", ":",
	"%2C", ",",
	"%7C", "|",
)

// escape percent-encodes s for a query string but keeps the characters FHIR
// references, tokens and lists use literally.
func escape(s string) string {
	return readableEscapes.Replace(url.QueryEscape(s))
}

// Parse reads a path such as "/Patient?name=smith&_sort=-birthdate" into a
// Spec. It never fails: undecodable pairs are skipped and a path without a
// resource type yields a Spec with an empty ResourceType.
func Parse(pathAndQuery string) Spec {
	raw, _, _ := strings.Cut(pathAndQuery, "#")
	path, query, _ := strings.Cut(raw, "?")

	s := Spec{ResourceType: resourceTypeFromPath(path)}

	var filters []Filter
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil || key == "" {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			continue
		}

		switch key {
		case ParamFields:
			for _, field := range strings.Split(value, ",") {
				s.Fields = appendUnique(s.Fields, strings.TrimSpace(field))
			}
		case ParamSort:
			for _, sort := range fhir.ParseSort(value) {
				s.SortRules = appendSortRule(s.SortRules, SortRule{Code: sort.Field, Descending: sort.Descending})
			}
		case ParamOffset:
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				s.Offset = n
			}
		case ParamCount:
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				s.Count = n
			}
		case ParamTotal:
			s.Total = value
		default:
			if f, ok := parseFilter(key, value); ok {
				filters = append(filters, f)
			}
		}
	}
	if len(filters) > 0 {
		s.Filters = FilterList(filters...)
	}
	return s
}

func resourceTypeFromPath(path string) string {
	if strings.Contains(path, "://") {
		if u, err := url.Parse(path); err == nil {
			path = u.Path
		}
	}
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(segments[i]); err == nil {
			return unescaped
		}
		return segments[i]
	}
	return ""
}

func parseFilter(key, value string) (Filter, bool) {
	code, modifier := fhir.ParseParamModifier(key)
	if code == "" {
		return Filter{}, false
	}
	if modifier != "" {
		return Filter{Code: code, Operator: Operator(modifier), Value: value}, true
	}
	parsed := fhir.ParseSearchValue(value)
	return Filter{Code: code, Operator: Operator(parsed.Prefix), Value: parsed.Value}, true
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendSortRule(rules []SortRule, r SortRule) []SortRule {
	for _, existing := range rules {
		if existing.Code == r.Code {
			return rules
		}
	}
	return append(rules, r)
}

// Serialize renders the canonical query string of s, including the leading
// "?", or "" when s has nothing to render. Control parameters come first
// (_fields, _sort), then filters in order, then paging (_offset, _count,
// _total).
func Serialize(s Spec) string {
	params := make([]string, 0, 2+s.Filters.Len()+3)

	if len(s.Fields) > 0 {
		params = append(params, ParamFields+"="+escape(strings.Join(s.Fields, ",")))
	}
	if len(s.SortRules) > 0 {
		sorts := make([]fhir.SortSpec, len(s.SortRules))
		for i, r := range s.SortRules {
			sorts[i] = fhir.SortSpec{Field: r.Code, Descending: r.Descending}
		}
		if v := fhir.FormatSort(sorts); v != "" {
			params = append(params, ParamSort+"="+escape(v))
		}
	}
	for _, f := range s.Filters.list {
		params = append(params, formatFilter(f))
	}
	if s.Offset > 0 {
		params = append(params, ParamOffset+"="+strconv.Itoa(s.Offset))
	}
	if s.Count > 0 {
		params = append(params, ParamCount+"="+strconv.Itoa(s.Count))
	}
	if s.Total != "" {
		params = append(params, ParamTotal+"="+escape(s.Total))
	}

	if len(params) == 0 {
		return ""
	}
	return "?" + strings.Join(params, "&")
}

func formatFilter(f Filter) string {
	if f.Operator.IsPrefix() {
		return escape(f.Code) + "=" + escape(fhir.FormatSearchValue(fhir.SearchPrefix(f.Operator), f.Value))
	}
	return escape(fhir.FormatParamModifier(f.Code, fhir.SearchModifier(f.Operator))) + "=" + escape(f.Value)
}

// CanonicalPath returns the canonical URL of s: the lower-cased resource type
// as the only path segment followed by Serialize(s).
func CanonicalPath(s Spec) string {
	return "/" + url.PathEscape(strings.ToLower(s.ResourceType)) + Serialize(s)
}
