package searchspec

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/scheduling/internal/platform/fhir"
)

// DefaultView is where a navigation without a resource type is sent.
const DefaultView = "/patient"

// Navigator moves the user to another path.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string) error

func (f NavigatorFunc) Navigate(ctx context.Context, path string) error {
	return f(ctx, path)
}

// Action is the outcome of a navigation.
type Action int

const (
	// Accept means the current URL is canonical and Search can be executed.
	Accept Action = iota
	// Redirect means the user was sent to Path.
	Redirect
)

func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Redirect:
		return "redirect"
	}
	return "unknown"
}

// Decision is the result of Engine.Navigate.
type Decision struct {
	Action Action
	// Path is the canonical path for Accept and the target for Redirect.
	Path string
	// Search is the resolved spec. For a redirect to the default view it is
	// the parsed, unresolved input.
	Search Spec
}

// Engine runs the navigation cycle: parse, resolve, compare with the
// canonical URL, then either accept (and remember) or redirect once.
type Engine struct {
	store       PreferenceStore
	resolver    *Resolver
	defaultView string
	logger      zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver overrides DefaultResolver.
func WithResolver(r *Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithDefaultView overrides DefaultView.
func WithDefaultView(path string) Option {
	return func(e *Engine) {
		if path != "" {
			e.defaultView = path
		}
	}
}

// WithLogger sets the logger used when the request context carries none.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine backed by store. A nil store behaves as an
// empty one.
func NewEngine(store PreferenceStore, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		resolver:    DefaultResolver,
		defaultView: DefaultView,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the preference store the engine reads and writes.
func (e *Engine) Store() PreferenceStore {
	return e.store
}

func (e *Engine) withLogger(ctx context.Context) context.Context {
	if zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		return e.logger.WithContext(ctx)
	}
	return ctx
}

// Resolve fills in the defaults of s using the engine's store.
func (e *Engine) Resolve(ctx context.Context, s Spec) Spec {
	return e.resolver.Resolve(e.withLogger(ctx), s, e.store)
}

// LastSearch returns the remembered search for resourceType.
func (e *Engine) LastSearch(ctx context.Context, resourceType string) (Spec, bool) {
	return Load(e.withLogger(ctx), e.store, fhir.CanonicalResourceType(resourceType))
}

// Navigate handles one navigation to current (path plus query). A path
// without a resource type is sent to the default view. Otherwise the spec is
// resolved and, when current already equals its canonical path, saved and
// accepted; if not, nav is asked to go to the canonical path. nav is called
// at most once and may be nil.
func (e *Engine) Navigate(ctx context.Context, current string, nav Navigator) (Decision, error) {
	ctx = e.withLogger(ctx)
	log := zerolog.Ctx(ctx)

	current, _, _ = strings.Cut(current, "#")
	parsed := Parse(current)
	if parsed.ResourceType == "" {
		log.Debug().Str("path", current).Str("target", e.defaultView).Msg("no resource type, redirecting to default view")
		return e.redirect(ctx, nav, Decision{Action: Redirect, Path: e.defaultView, Search: parsed})
	}

	resolved := e.resolver.Resolve(ctx, parsed, e.store)
	canonical := CanonicalPath(resolved)
	if current != canonical {
		log.Debug().Str("path", current).Str("target", canonical).Msg("redirecting to canonical search")
		return e.redirect(ctx, nav, Decision{Action: Redirect, Path: canonical, Search: resolved})
	}

	if err := Save(ctx, e.store, resolved); err != nil {
		log.Warn().Err(err).Str("resource_type", resolved.ResourceType).Msg("failed to save last search")
	}
	return Decision{Action: Accept, Path: canonical, Search: resolved}, nil
}

// Change navigates to the canonical URL of an edited search under the
// resource type of the current one, as a search control does when the user
// changes columns, filters or sort.
func (e *Engine) Change(ctx context.Context, current, edited Spec, nav Navigator) (string, error) {
	edited.ResourceType = current.ResourceType
	path := CanonicalPath(edited)
	if nav == nil {
		return path, nil
	}
	return path, nav.Navigate(e.withLogger(ctx), path)
}

func (e *Engine) redirect(ctx context.Context, nav Navigator, d Decision) (Decision, error) {
	if nav == nil {
		return d, nil
	}
	return d, nav.Navigate(ctx, d.Path)
}
