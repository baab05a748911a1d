package searchspec

import (
	"context"

	"github.com/ehr/scheduling/internal/platform/fhir"
)

// Resolver fills in the empty parts of a Spec.
type Resolver struct {
	// DefaultResourceType replaces SystemDefaultResourceType when set.
	DefaultResourceType string
	// Fields replaces DefaultFieldTable when set.
	Fields FieldTable
}

// DefaultResolver resolves with the built-in defaults.
var DefaultResolver = &Resolver{}

// Resolve resolves s with DefaultResolver.
func Resolve(ctx context.Context, s Spec, store PreferenceStore) Spec {
	return DefaultResolver.Resolve(ctx, s, store)
}

// Resolve returns a copy of s with every empty part populated:
//
//   - ResourceType from the stored default, then the configured default.
//     Known FHIR types are normalised to their canonical spelling.
//   - Fields from the field table.
//   - Filters from the last-used search, but only when s named no resource
//     type and left filters unset.
//   - SortRules from the last-used search, then "-_lastUpdated".
//
// s itself is never modified. A nil or failing store behaves as empty.
func (r *Resolver) Resolve(ctx context.Context, s Spec, store PreferenceStore) Spec {
	out := s.Clone()

	if out.ResourceType == "" {
		out.ResourceType = r.defaultResourceType(ctx, store)
	}
	out.ResourceType = fhir.CanonicalResourceType(out.ResourceType)

	if len(out.Fields) == 0 {
		out.Fields = r.fieldTable().Lookup(out.ResourceType)
	}

	freshNavigation := s.ResourceType == "" && s.Filters.IsUnset()
	needSort := len(out.SortRules) == 0
	if !freshNavigation && !needSort {
		return out
	}

	last, ok := Load(ctx, store, out.ResourceType)
	if freshNavigation && ok {
		out.Filters = last.Filters.clone()
	}
	if needSort {
		if ok && len(last.SortRules) > 0 {
			out.SortRules = append([]SortRule(nil), last.SortRules...)
		} else {
			out.SortRules = DefaultSortRules()
		}
	}
	return out
}

func (r *Resolver) defaultResourceType(ctx context.Context, store PreferenceStore) string {
	if rt, ok := loadDefaultResourceType(ctx, store); ok {
		return rt
	}
	if r.DefaultResourceType != "" {
		return r.DefaultResourceType
	}
	return SystemDefaultResourceType
}

func (r *Resolver) fieldTable() FieldTable {
	if r.Fields != nil {
		return r.Fields
	}
	return DefaultFieldTable
}
