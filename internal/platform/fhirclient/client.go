// Package fhirclient talks to the upstream FHIR server that scheduling
// searches run against. Idempotent requests are retried with exponential
// backoff on connection errors and 5xx/429 responses; POST is sent once.
package fhirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduling/internal/platform/fhir"
	"github.com/ehr/scheduling/internal/searchspec"
)

const (
	ContentType = "application/fhir+json"

	defaultTimeout  = 30 * time.Second
	defaultRetryMax = 3
	maxBodyBytes    = 16 << 20
)

// Searcher is the part of the client the web layer needs.
type Searcher interface {
	Search(ctx context.Context, s searchspec.Spec) (*fhir.Bundle, error)
	Read(ctx context.Context, resourceType, id string) (json.RawMessage, error)
}

// RequestObserver is told about every upstream request once it finishes.
// status is 0 when no response arrived.
type RequestObserver interface {
	ObserveFHIRRequest(method string, status int, d time.Duration)
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
	// RetryWaitMin and RetryWaitMax bound the backoff between attempts.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Token is sent as a bearer token when set.
	Token    string
	Logger   zerolog.Logger
	Observer RequestObserver
}

// Client is a FHIR REST client.
type Client struct {
	baseURL  *url.URL
	http     *retryablehttp.Client
	token    string
	observer RequestObserver
}

// New creates a Client for the server at opts.BaseURL.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("fhirclient: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("fhirclient: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("fhirclient: base URL must be http or https, got %q", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryMax := opts.RetryMax
	if retryMax < 0 {
		retryMax = defaultRetryMax
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	rc.HTTPClient = &http.Client{Timeout: timeout}
	rc.Logger = leveledLogger{log: opts.Logger}
	// Hand the final response back instead of a generic "giving up" error so
	// the OperationOutcome can be decoded.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.CheckRetry = checkRetry

	return &Client{baseURL: base, http: rc, token: opts.Token, observer: opts.Observer}, nil
}

type sendOnceKey struct{}

// checkRetry is retryablehttp.DefaultRetryPolicy, except that requests
// marked send-once are never repeated. A retried POST can create the
// resource twice.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if once, _ := ctx.Value(sendOnceKey{}).(bool); once {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// Read fetches resourceType/id.
func (c *Client) Read(ctx context.Context, resourceType, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, resourcePath(resourceType, id), "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search runs s against the server and returns the searchset Bundle.
func (c *Client) Search(ctx context.Context, s searchspec.Spec) (*fhir.Bundle, error) {
	if s.ResourceType == "" {
		return nil, searchspec.ErrNoResourceType
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, resourcePath(s.ResourceType, ""), Query(s), nil, &raw); err != nil {
		return nil, err
	}
	return fhir.DecodeBundle(raw)
}

// SearchOne returns the first match of s, if any.
func (c *Client) SearchOne(ctx context.Context, s searchspec.Spec) (json.RawMessage, bool, error) {
	s = s.Clone()
	s.Count = 1
	s.Offset = 0
	b, err := c.Search(ctx, s)
	if err != nil {
		return nil, false, err
	}
	matches := b.Matches()
	if len(matches) == 0 {
		return nil, false, nil
	}
	return matches[0], true, nil
}

// Create posts resource and returns the stored version.
func (c *Client) Create(ctx context.Context, resourceType string, resource any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, resourcePath(resourceType, ""), "", resource, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces resourceType/id with resource.
func (c *Client) Update(ctx context.Context, resourceType, id string, resource any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPut, resourcePath(resourceType, id), "", resource, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes resourceType/id.
func (c *Client) Delete(ctx context.Context, resourceType, id string) error {
	return c.do(ctx, http.MethodDelete, resourcePath(resourceType, id), "", nil, nil)
}

// resourcePath returns the escaped path of a type or instance endpoint.
func resourcePath(resourceType, id string) string {
	p := "/" + url.PathEscape(resourceType)
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path, rawQuery string, body any, out *json.RawMessage) error {
	u := *c.baseURL
	u.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return fmt.Errorf("fhirclient: build path: %w", err)
	}
	u.Path = unescaped
	u.RawQuery = rawQuery

	var payload interface{}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("fhirclient: encode %s body: %w", method, err)
		}
		payload = data
	}

	reqCtx := ctx
	if !idempotent(method) {
		reqCtx = context.WithValue(ctx, sendOnceKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(reqCtx, method, u.String(), payload)
	if err != nil {
		return fmt.Errorf("fhirclient: build request: %w", err)
	}
	req.Header.Set("Accept", ContentType)
	if body != nil {
		req.Header.Set("Content-Type", ContentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	log := zerolog.Ctx(ctx)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(method, 0, start)
		return fmt.Errorf("fhirclient: %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()
	c.observe(method, resp.StatusCode, start)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("fhirclient: read response: %w", err)
	}

	log.Debug().
		Str("method", method).
		Str("url", u.String()).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("fhir request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newError(method, u.String(), resp.StatusCode, data)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if !json.Valid(data) {
			return fmt.Errorf("fhirclient: %s %s: response is not JSON", method, u.Path)
		}
		*out = json.RawMessage(data)
	}
	return nil
}

func (c *Client) observe(method string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveFHIRRequest(method, status, time.Since(start))
	}
}
