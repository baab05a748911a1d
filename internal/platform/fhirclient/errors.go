package fhirclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ehr/scheduling/internal/platform/fhir"
)

// Error is a non-2xx response from the FHIR server.
type Error struct {
	StatusCode int
	Method     string
	URL        string
	// Outcome is the decoded OperationOutcome, or nil when the body was
	// something else.
	Outcome *fhir.OperationOutcome
}

func (e *Error) Error() string {
	msg := e.Outcome.Diagnostics()
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("fhirclient: %s %s: %d %s", e.Method, e.URL, e.StatusCode, msg)
}

func newError(method, url string, status int, body []byte) *Error {
	e := &Error{StatusCode: status, Method: method, URL: url}
	var oo fhir.OperationOutcome
	if err := json.Unmarshal(body, &oo); err == nil && oo.ResourceType == "OperationOutcome" {
		e.Outcome = &oo
	}
	return e
}

// StatusCode returns the HTTP status of err if it is an *Error, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 or 410 from the server.
func IsNotFound(err error) bool {
	code := StatusCode(err)
	return code == http.StatusNotFound || code == http.StatusGone
}
