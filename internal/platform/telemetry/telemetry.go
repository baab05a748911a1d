// Package telemetry exposes Prometheus metrics for the scheduling server:
// HTTP traffic, navigation decisions and upstream FHIR calls.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/scheduling/internal/platform/fhir"
)

const namespace = "scheduling"

// Metrics holds the server's collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	active      prometheus.Gauge
	navigations *prometheus.CounterVec
	fhirCalls   *prometheus.CounterVec
	fhirLatency *prometheus.HistogramVec
	accesses    *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry with
// the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "HTTP requests currently being served.",
		}),
		navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "navigations_total",
			Help:      "Search navigations by decision and resource type.",
		}, []string{"action", "resource_type"}),
		fhirCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fhir",
			Name:      "requests_total",
			Help:      "Upstream FHIR requests by method and status.",
		}, []string{"method", "status"}),
		fhirLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fhir",
			Name:      "request_duration_seconds",
			Help:      "Latency of upstream FHIR requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		accesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "accesses_total",
			Help:      "Audited resource accesses by action and resource type.",
		}, []string{"action", "resource_type"}),
	}
	reg.MustRegister(m.requests, m.duration, m.active, m.navigations, m.fhirCalls, m.fhirLatency, m.accesses)
	return m
}

// Middleware records request count, latency and in-flight requests. The route
// label is the matched route pattern so ids do not explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			m.active.Inc()
			defer m.active.Dec()

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			m.requests.WithLabelValues(method, route, strconv.Itoa(statusOf(c, err))).Inc()
			m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// statusOf returns the status the response will carry once err is handled.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	if m == nil {
		return func(c echo.Context) error { return c.NoContent(http.StatusNotFound) }
	}
	return echo.WrapHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

// ObserveNavigation counts one navigation decision. Resource types outside
// the FHIR R4 set are reported as "other".
func (m *Metrics) ObserveNavigation(action, resourceType string) {
	if m == nil {
		return
	}
	m.navigations.WithLabelValues(action, resourceLabel(resourceType)).Inc()
}

// ObserveAccess counts one audited access.
func (m *Metrics) ObserveAccess(action, resourceType string) {
	if m == nil {
		return
	}
	m.accesses.WithLabelValues(action, resourceLabel(resourceType)).Inc()
}

func resourceLabel(resourceType string) string {
	rt := fhir.CanonicalResourceType(resourceType)
	if !fhir.IsValidResourceType(rt) {
		return "other"
	}
	return rt
}

// ObserveFHIRRequest records one upstream call. status is 0 when no response
// was received.
func (m *Metrics) ObserveFHIRRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.fhirCalls.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.fhirLatency.WithLabelValues(method).Observe(d.Seconds())
}
