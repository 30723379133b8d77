// Package domainerr defines the typed errors workflow operations raise when a
// business rule rejects a request. These are expected, user-recoverable
// conditions: they carry a stable machine-readable code and surface to HTTP
// callers as a 409 with a structured envelope, never as a 500.
package domainerr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrNotFound marks an entity that is absent or not visible under the
// caller's tenant. It is always reported generically so cross-tenant
// existence never leaks.
var ErrNotFound = errors.New("not found")

// Stable domain error codes.
const (
	CodeEncounterStateInvalid      = "ENCOUNTER_STATE_INVALID"
	CodeEncounterFinalizeBlocked   = "ENCOUNTER_FINALIZE_BLOCKED_UNVERIFIED_LAB"
	CodePrepIncomplete             = "PREP_INCOMPLETE"
	CodeLabTestAlreadyOrdered      = "LAB_TEST_ALREADY_ORDERED"
	CodeLabParameterNotFound       = "LAB_PARAMETER_NOT_FOUND"
	CodeLabResultsLocked           = "LAB_RESULTS_LOCKED"
	CodeLabResultsNotReady         = "LAB_RESULTS_NOT_READY"
	CodeLabResultsIncomplete       = "LAB_RESULTS_INCOMPLETE"
	CodeLabAlreadyVerified         = "LAB_ALREADY_VERIFIED"
	CodeInvalidDocumentType        = "INVALID_DOCUMENT_TYPE"
)

// Error is a state-guard or conflict violation raised at the point of
// detection. It propagates unmodified to the HTTP boundary.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a domain error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured details (e.g. missing field names) and
// returns the same error for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// As unwraps err into *Error if it is one.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// envelope is the JSON error body for domain failures.
type envelope struct {
	Error body `json:"error"`
}

type body struct {
	Type    string                 `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Respond writes the appropriate HTTP response for err: 409 with the domain
// envelope for domain errors, 404 for not-found, otherwise 500 with the
// correlation id the caller can report. It never leaks internal detail.
func Respond(c echo.Context, err error) error {
	if de, ok := As(err); ok {
		return c.JSON(http.StatusConflict, envelope{Error: body{
			Type:    "domain_error",
			Code:    de.Code,
			Message: de.Message,
			Details: de.Details,
		}})
	}
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	rid, _ := c.Get("request_id").(string)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":          "internal server error",
		"correlation_id": rid,
	})
}
