// Package web serves the scheduling front end's navigation over HTTP. Every
// page path is routed through the search engine or the route table, and
// search paths either redirect once to their canonical URL or return the
// resolved search with its results.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduling/internal/navigation"
	"github.com/ehr/scheduling/internal/platform/fhir"
	"github.com/ehr/scheduling/internal/platform/fhirclient"
	"github.com/ehr/scheduling/internal/platform/prefstore"
	"github.com/ehr/scheduling/internal/platform/telemetry"
	"github.com/ehr/scheduling/internal/searchspec"
	"github.com/ehr/scheduling/pkg/pagination"
)

// ResourceClient is the FHIR access the pages need.
type ResourceClient interface {
	fhirclient.Searcher
	SearchOne(ctx context.Context, s searchspec.Spec) (json.RawMessage, bool, error)
	Create(ctx context.Context, resourceType string, resource any) (json.RawMessage, error)
	Update(ctx context.Context, resourceType, id string, resource any) (json.RawMessage, error)
	Delete(ctx context.Context, resourceType, id string) error
}

type Handler struct {
	engine  *searchspec.Engine
	fhir    ResourceClient
	metrics *telemetry.Metrics
	pinger  prefstore.Pinger
	now     func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithFHIR runs accepted searches and resource reads against client.
func WithFHIR(client ResourceClient) Option {
	return func(h *Handler) { h.fhir = client }
}

// WithMetrics records navigation decisions and serves /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithPinger makes /health check the preference backend.
func WithPinger(p prefstore.Pinger) Option {
	return func(h *Handler) { h.pinger = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func NewHandler(engine *searchspec.Engine, opts ...Option) *Handler {
	h := &Handler{engine: engine, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	if h.metrics != nil {
		e.GET("/metrics", h.metrics.Handler())
	}

	api := e.Group("/api/v1")
	api.GET("/preferences/:resourceType", h.GetPreference)
	api.POST("/search/canonicalize", h.Canonicalize)
	api.POST("/appointments", h.BookAppointment)
	api.POST("/appointments/:id/reschedule", h.RescheduleAppointment)
	api.DELETE("/slots/:id", h.DeleteSlot)

	e.PUT("/:resourceType/:id", h.UpdateResource)
	e.GET("/*", h.Page)
}

// SearchResponse is the body of an accepted search navigation.
type SearchResponse struct {
	Page      navigation.Page      `json:"page"`
	Tab       string               `json:"tab,omitempty"`
	Search    searchspec.Spec      `json:"search"`
	Canonical string               `json:"canonical"`
	Results   *pagination.Response `json:"results,omitempty"`
}

// ResourceResponse is the body of a single-resource page.
type ResourceResponse struct {
	Page         navigation.Page `json:"page"`
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id"`
	Tab          string          `json:"tab,omitempty"`
	Tabs         []string        `json:"tabs,omitempty"`
	Resource     json.RawMessage `json:"resource,omitempty"`
}

// PageResponse describes a page this server only routes.
type PageResponse struct {
	Page   navigation.Page   `json:"page"`
	Params map[string]string `json:"params,omitempty"`
}

// Page dispatches a front-end path through the route table.
func (h *Handler) Page(c echo.Context) error {
	route := navigation.Match(c.Request().URL.Path)

	switch route.Page {
	case navigation.PageHome, navigation.PageSearch:
		return h.Search(c)
	case navigation.PageSchedule:
		return h.Schedule(c, route)
	case navigation.PageAppointments:
		return h.Appointments(c, route.Param("tab"))
	case navigation.PageAppointmentDetail:
		return h.Resource(c, "Appointment", route.Param("id"), navigation.TabDetails, route.Page)
	case navigation.PagePatient:
		return h.Resource(c, "Patient", route.Param("id"), navigation.TabDetails, route.Page)
	case navigation.PageResource:
		return h.Resource(c, route.Param("resourceType"), route.Param("id"), route.Param("tab"), route.Page)
	}
	return c.JSON(http.StatusOK, PageResponse{Page: route.Page, Params: route.Params})
}

// Search runs one navigation cycle for the current URL.
func (h *Handler) Search(c echo.Context) error {
	ctx := c.Request().Context()

	d, err := h.engine.Navigate(ctx, currentURL(c), redirector{c})
	if err != nil {
		return err
	}
	h.metrics.ObserveNavigation(d.Action.String(), d.Search.ResourceType)
	if d.Action == searchspec.Redirect {
		// The redirect response has already been written.
		return nil
	}

	resp := SearchResponse{Page: navigation.PageSearch, Search: d.Search, Canonical: d.Path}
	if resp.Results, err = h.results(ctx, d.Search); err != nil {
		return upstreamError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Appointments lists the upcoming or past appointments of the actor given
// in the query. Unknown tabs redirect to upcoming.
func (h *Handler) Appointments(c echo.Context, tab string) error {
	if !navigation.IsAppointmentsTab(tab) {
		return c.Redirect(http.StatusFound, navigation.AppointmentsPath(tab))
	}

	s, err := navigation.AppointmentsSearch(tab, c.QueryParam("actor"), h.now())
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}

	resp := SearchResponse{Page: navigation.PageAppointments, Tab: tab, Search: s, Canonical: searchspec.CanonicalPath(s)}
	if resp.Results, err = h.results(c.Request().Context(), s); err != nil {
		return upstreamError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Resource shows one resource on the given tab. A resource that cannot be
// read sends the user home.
func (h *Handler) Resource(c echo.Context, resourceType, id, tab string, page navigation.Page) error {
	resourceType = fhir.CanonicalResourceType(resourceType)
	resp := ResourceResponse{Page: page, ResourceType: resourceType, ID: id, Tab: tab}
	if page == navigation.PageResource {
		resp.Tabs = navigation.Tabs
	}

	if h.fhir != nil {
		res, err := h.fhir.Read(c.Request().Context(), resourceType, id)
		if err != nil {
			zerolog.Ctx(c.Request().Context()).Warn().Err(err).
				Str("resource_type", resourceType).Str("id", id).
				Msg("failed to read resource, redirecting home")
			return c.Redirect(http.StatusFound, "/")
		}
		resp.Resource = res
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateResource saves an edited resource and points the client back at its
// details tab.
func (h *Handler) UpdateResource(c echo.Context) error {
	if h.fhir == nil {
		return noFHIR(c)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil || !json.Valid(body) {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, "request body must be a FHIR resource"))
	}

	resourceType := fhir.CanonicalResourceType(c.Param("resourceType"))
	id := c.Param("id")
	updated, err := h.fhir.Update(c.Request().Context(), resourceType, id, json.RawMessage(body))
	if err != nil {
		return upstreamError(c, err)
	}

	c.Response().Header().Set("Location", navigation.TabPath(resourceType, id, navigation.TabDetails))
	return c.JSON(http.StatusOK, ResourceResponse{
		Page:         navigation.PageResource,
		ResourceType: resourceType,
		ID:           id,
		Tab:          navigation.TabDetails,
		Tabs:         navigation.Tabs,
		Resource:     updated,
	})
}

// GetPreference returns the remembered search for a resource type.
func (h *Handler) GetPreference(c echo.Context) error {
	rt := fhir.CanonicalResourceType(c.Param("resourceType"))
	s, ok := h.engine.LastSearch(c.Request().Context(), rt)
	if !ok {
		return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, "no saved search for "+rt))
	}
	return c.JSON(http.StatusOK, SearchResponse{Page: navigation.PageSearch, Search: s, Canonical: searchspec.CanonicalPath(s)})
}

// CanonicalizeRequest is the body of POST /api/v1/search/canonicalize.
type CanonicalizeRequest struct {
	Path string `json:"path"`
}

// Canonicalize resolves a path the way a navigation would, without saving
// anything or redirecting.
func (h *Handler) Canonicalize(c echo.Context) error {
	var req CanonicalizeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}
	if req.Path == "" {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, "path is required"))
	}

	s := h.engine.Resolve(c.Request().Context(), searchspec.Parse(req.Path))
	return c.JSON(http.StatusOK, SearchResponse{Page: navigation.PageSearch, Search: s, Canonical: searchspec.CanonicalPath(s)})
}

// Health reports whether the preference backend is reachable.
func (h *Handler) Health(c echo.Context) error {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) results(ctx context.Context, s searchspec.Spec) (*pagination.Response, error) {
	if h.fhir == nil {
		return nil, nil
	}
	bundle, err := h.fhir.Search(ctx, s)
	if err != nil {
		return nil, err
	}

	matches := bundle.Matches()
	page := pagination.New(s.Count, s.Offset)
	total := page.Offset + len(matches)
	if bundle.Total != nil {
		total = *bundle.Total
	}

	resp := pagination.NewResponse(matches, total, page.Limit, page.Offset)
	resp.Links = page.Links(total, func(p pagination.Params) string {
		next := s.Clone()
		next.Offset = p.Offset
		if s.Count > 0 {
			next.Count = p.Limit
		}
		return searchspec.CanonicalPath(next)
	})
	return resp, nil
}

// currentURL is the escaped path and raw query of the request, as the
// browser's address bar would show it.
func currentURL(c echo.Context) string {
	u := c.Request().URL
	if u.RawQuery == "" {
		return u.EscapedPath()
	}
	return u.EscapedPath() + "?" + u.RawQuery
}

// redirector is a searchspec.Navigator that answers with a 302.
type redirector struct {
	c echo.Context
}

func (r redirector) Navigate(_ context.Context, path string) error {
	return r.c.Redirect(http.StatusFound, path)
}

// upstreamError maps a FHIR client failure onto the response.
func upstreamError(c echo.Context, err error) error {
	var fe *fhirclient.Error
	if errors.As(err, &fe) {
		status := http.StatusBadGateway
		if fe.StatusCode >= 400 && fe.StatusCode < 500 {
			status = fe.StatusCode
		}
		outcome := fe.Outcome
		if outcome == nil {
			outcome = fhir.ErrorOutcome(err.Error())
		}
		return c.JSON(status, outcome)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTimeout, err.Error()))
	}
	return c.JSON(http.StatusBadGateway, fhir.ErrorOutcome(err.Error()))
}
