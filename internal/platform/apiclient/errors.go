package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Messages surfaced to users.
const (
	SessionExpiredMessage = "Session expired. Please log in again."
	FallbackMessage       = "Something went wrong while making API call"
)

var (
	// ErrSessionExpired is returned when an authorization failure could not
	// be recovered by refreshing. The session has been logged out.
	ErrSessionExpired = errors.New(SessionExpiredMessage)

	// ErrAmbiguousBody is returned when a request sets both JSON and Body.
	ErrAmbiguousBody = errors.New("apiclient: request sets both JSON and raw body")

	// ErrMalformedResponse is returned when a successful response is not JSON.
	ErrMalformedResponse = errors.New("apiclient: response body is not valid JSON")
)

// HTTPError is a non-2xx response that was not an authorization failure, or
// the final response after the one allowed retry.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// String includes the status code for logs.
func (e *HTTPError) String() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// messageFrom reads the "message" field of a JSON error body.
func messageFrom(body []byte) string {
	var payload struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Message) == 0 {
		return FallbackMessage
	}
	var msg string
	if err := json.Unmarshal(payload.Message, &msg); err != nil || msg == "" {
		return FallbackMessage
	}
	return msg
}
