package searchspec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// KeyDefaultResourceType stores the resource type of the last accepted search.
const KeyDefaultResourceType = "defaultResourceType"

// PreferenceStore is a durable string key-value store shared by sessions.
// Get reports absent keys with ok=false and a nil error. Concurrent writers
// follow last-write-wins.
type PreferenceStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// ErrNoResourceType is returned when saving a Spec without a resource type.
var ErrNoResourceType = errors.New("search has no resource type")

const storedSearchVersion = 1

type storedSearch struct {
	Version int  `json:"v"`
	Search  Spec `json:"search"`
}

// Save records s as the last-used search for its resource type and makes that
// resource type the default. Call it once per accepted search, not for
// interim edits. A nil store is a no-op.
func Save(ctx context.Context, store PreferenceStore, s Spec) error {
	if store == nil {
		return nil
	}
	if s.ResourceType == "" {
		return ErrNoResourceType
	}

	data, err := json.Marshal(storedSearch{Version: storedSearchVersion, Search: s})
	if err != nil {
		return fmt.Errorf("encode search: %w", err)
	}
	if err := store.Set(ctx, KeyDefaultResourceType, s.ResourceType); err != nil {
		return fmt.Errorf("save default resource type: %w", err)
	}
	if err := store.Set(ctx, s.ResourceType, string(data)); err != nil {
		return fmt.Errorf("save search for %s: %w", s.ResourceType, err)
	}
	return nil
}

// Load returns the last-used search for resourceType. Missing, unreadable and
// corrupt entries all report ok=false; the cause is logged at warn level on
// the context logger.
func Load(ctx context.Context, store PreferenceStore, resourceType string) (Spec, bool) {
	if store == nil || resourceType == "" {
		return Spec{}, false
	}

	raw, ok, err := store.Get(ctx, resourceType)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("resource_type", resourceType).Msg("preference store unavailable")
		return Spec{}, false
	}
	if !ok || raw == "" {
		return Spec{}, false
	}

	var stored storedSearch
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("resource_type", resourceType).Msg("discarding corrupt saved search")
		return Spec{}, false
	}
	if stored.Version != storedSearchVersion || stored.Search.ResourceType != resourceType {
		zerolog.Ctx(ctx).Warn().
			Int("version", stored.Version).
			Str("resource_type", resourceType).
			Str("stored_resource_type", stored.Search.ResourceType).
			Msg("discarding mismatched saved search")
		return Spec{}, false
	}
	return stored.Search, true
}

func loadDefaultResourceType(ctx context.Context, store PreferenceStore) (string, bool) {
	if store == nil {
		return "", false
	}
	rt, ok, err := store.Get(ctx, KeyDefaultResourceType)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("preference store unavailable")
		return "", false
	}
	return rt, ok && rt != ""
}
