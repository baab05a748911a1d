package fhirclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ehr/scheduling/internal/searchspec"
)

const patientBundle = `{
	"resourceType": "Bundle",
	"type": "searchset",
	"total": 2,
	"link": [{"relation": "next", "url": "http://fhir.test/Patient?_offset=1"}],
	"entry": [
		{"resource": {"resourceType": "Patient", "id": "p1"}, "search": {"mode": "match"}},
		{"resource": {"resourceType": "Organization", "id": "o1"}, "search": {"mode": "include"}},
		{"resource": {"resourceType": "Patient", "id": "p2"}}
	]
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{
		BaseURL:      srv.URL + "/fhir/R4/",
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
		Token:        "secret",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_InvalidBaseURL(t *testing.T) {
	for _, base := range []string{"", "ftp://fhir.test", "://bad"} {
		if _, err := New(Options{BaseURL: base}); err == nil {
			t.Errorf("New(%q): expected error", base)
		}
	}
}

func TestClient_Search(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotAccept string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", ContentType)
		io.WriteString(w, patientBundle)
	})

	s := searchspec.Resolve(context.Background(), searchspec.Parse("/patient?name=smith"), nil)
	b, err := c.Search(context.Background(), s)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if gotPath != "/fhir/R4/Patient" {
		t.Errorf("path = %q, want /fhir/R4/Patient", gotPath)
	}
	wantQuery := "_elements=name,gender,birthDate,meta&_sort=-_lastUpdated&name=smith&_count=20"
	if gotQuery != wantQuery {
		t.Errorf("query = %q, want %q", gotQuery, wantQuery)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAccept != ContentType {
		t.Errorf("Accept = %q", gotAccept)
	}

	if b.Total == nil || *b.Total != 2 {
		t.Errorf("Total = %v, want 2", b.Total)
	}
	if got := len(b.Matches()); got != 2 {
		t.Errorf("expected 2 matches, got %d", got)
	}
	if b.LinkURL("next") == "" {
		t.Error("expected next link")
	}
}

func TestClient_Search_RequiresResourceType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if _, err := c.Search(context.Background(), searchspec.Spec{}); !errors.Is(err, searchspec.ErrNoResourceType) {
		t.Errorf("expected ErrNoResourceType, got %v", err)
	}
}

func TestClient_Search_NotABundle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"resourceType":"Patient","id":"p1"}`)
	})
	if _, err := c.Search(context.Background(), searchspec.Spec{ResourceType: "Patient"}); err == nil {
		t.Error("expected error for non-Bundle response")
	}
}

func TestClient_SearchOne(t *testing.T) {
	var gotCount string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotCount = r.URL.Query().Get("_count")
		io.WriteString(w, patientBundle)
	})

	res, ok, err := c.SearchOne(context.Background(), searchspec.Spec{ResourceType: "Patient", Count: 50, Offset: 10})
	if err != nil || !ok {
		t.Fatalf("SearchOne: ok=%v err=%v", ok, err)
	}
	if gotCount != "1" {
		t.Errorf("_count = %q, want 1", gotCount)
	}
	if !strings.Contains(string(res), `"p1"`) {
		t.Errorf("expected first match, got %s", res)
	}
}

func TestClient_SearchOne_NoMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"resourceType":"Bundle","type":"searchset","total":0}`)
	})
	_, ok, err := c.SearchOne(context.Background(), searchspec.Spec{ResourceType: "Slot"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no match")
	}
}

func TestClient_Read(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/fhir/R4/Appointment/a%201" && r.URL.Path != "/fhir/R4/Appointment/a 1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, `{"resourceType":"Appointment","id":"a 1"}`)
	})

	res, err := c.Read(context.Background(), "Appointment", "a 1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var a struct{ ID string }
	if err := json.Unmarshal(res, &a); err != nil || a.ID != "a 1" {
		t.Errorf("unexpected resource %s (%v)", res, err)
	}
}

func TestClient_Read_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"not-found","diagnostics":"Patient/x not found"}]}`)
	})

	_, err := c.Read(context.Background(), "Patient", "x")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if fe.Outcome == nil || fe.Outcome.Diagnostics() != "Patient/x not found" {
		t.Errorf("unexpected outcome %+v", fe.Outcome)
	}
	if !strings.Contains(err.Error(), "Patient/x not found") {
		t.Errorf("error message should carry diagnostics: %v", err)
	}
}

func TestClient_ErrorWithoutOutcome(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "denied")
	})

	_, err := c.Read(context.Background(), "Patient", "x")
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if fe.Outcome != nil {
		t.Errorf("expected no outcome, got %+v", fe.Outcome)
	}
	if StatusCode(err) != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", StatusCode(err))
	}
	if !strings.Contains(err.Error(), "Forbidden") {
		t.Errorf("expected status text in error, got %v", err)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"resourceType":"Patient","id":"p1"}`)
	})

	if _, err := c.Read(context.Background(), "Patient", "p1"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestClient_GivesUpAfterRetryMax(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Read(context.Background(), "Patient", "p1")
	if StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("expected 502 error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 1 attempt plus 2 retries, got %d", got)
	}
}

func TestClient_CreateIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Create(context.Background(), "Appointment", map[string]string{"resourceType": "Appointment"})
	if StatusCode(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single POST, got %d", got)
	}
}

func TestClient_UpdateIsRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"resourceType":"Appointment","id":"a1"}`)
	})

	if _, err := c.Update(context.Background(), "Appointment", "a1", map[string]string{"resourceType": "Appointment", "id": "a1"}); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestClient_CreateUpdateDelete(t *testing.T) {
	type call struct {
		method, path, contentType, body string
	}
	var calls []call
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, call{r.Method, r.URL.Path, r.Header.Get("Content-Type"), string(body)})
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"resourceType":"Slot","id":"s1","status":"free"}`)
		case http.MethodPut:
			io.WriteString(w, `{"resourceType":"Slot","id":"s1","status":"busy"}`)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	created, err := c.Create(ctx, "Slot", map[string]string{"resourceType": "Slot", "status": "free"})
	if err != nil || !strings.Contains(string(created), `"s1"`) {
		t.Fatalf("Create: %s, %v", created, err)
	}
	updated, err := c.Update(ctx, "Slot", "s1", map[string]string{"resourceType": "Slot", "id": "s1", "status": "busy"})
	if err != nil || !strings.Contains(string(updated), "busy") {
		t.Fatalf("Update: %s, %v", updated, err)
	}
	if err := c.Delete(ctx, "Slot", "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []call{
		{http.MethodPost, "/fhir/R4/Slot", ContentType, `{"resourceType":"Slot","status":"free"}`},
		{http.MethodPut, "/fhir/R4/Slot/s1", ContentType, `{"id":"s1","resourceType":"Slot","status":"busy"}`},
		{http.MethodDelete, "/fhir/R4/Slot/s1", "", ""},
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %+v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, calls[i], want[i])
		}
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Read(ctx, "Patient", "p1"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name string
		spec searchspec.Spec
		want string
	}{
		{"bare", searchspec.Spec{ResourceType: "Slot"}, "_count=20"},
		{
			"fields and paging",
			searchspec.Spec{ResourceType: "Slot", Fields: []string{"_id", "start", "schedule", "_lastUpdated", "start"}, Offset: 40, Count: 500},
			"_elements=id,start,schedule,meta&_offset=40&_count=100",
		},
		{
			"filters keep order",
			searchspec.Spec{
				ResourceType: "Appointment",
				Filters: searchspec.FilterList(
					searchspec.Filter{Code: "date", Operator: searchspec.GreaterThanOrEquals, Value: "2024-01-01"},
					searchspec.Filter{Code: "status", Operator: searchspec.Not, Value: "cancelled"},
				),
				Total: "accurate",
			},
			"date=ge2024-01-01&status:not=cancelled&_count=20&_total=accurate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Query(tt.spec); got != tt.want {
				t.Errorf("Query() = %q, want %q", got, tt.want)
			}
		})
	}
}

type observation struct {
	method string
	status int
}

type recordingObserver struct {
	seen []observation
}

func (r *recordingObserver) ObserveFHIRRequest(method string, status int, _ time.Duration) {
	r.seen = append(r.seen, observation{method, status})
}

func TestClient_Observer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	obs := &recordingObserver{}
	c, err := New(Options{BaseURL: srv.URL, RetryMax: 0, Observer: obs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, _ = c.Read(context.Background(), "Patient", "p1")
	srv.Close()
	_, _ = c.Read(context.Background(), "Patient", "p1")

	want := []observation{{http.MethodGet, http.StatusNotFound}, {http.MethodGet, 0}}
	if len(obs.seen) != len(want) {
		t.Fatalf("observations = %+v, want %+v", obs.seen, want)
	}
	for i := range want {
		if obs.seen[i] != want[i] {
			t.Errorf("observation %d = %+v, want %+v", i, obs.seen[i], want[i])
		}
	}
}
