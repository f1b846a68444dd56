package remote

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RequestError is the terminal failure of a request after retries.
//
// Status is the HTTP status code, or 0 when no response was received
// (DNS failure, refused connection, timeout).
type RequestError struct {
	Method  string
	URL     string
	Status  int
	Body    []byte
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: network error: %v", e.Method, e.URL, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// HTTPStatusCode returns the response status, 0 for network failures.
func (e *RequestError) HTTPStatusCode() int { return e.Status }

// Retryable reports whether the failure is worth another attempt.
func (e *RequestError) Retryable() bool {
	return e.Status == 0 || e.Status >= 500
}

// UserMessage is the human-readable text for notices: the server's own
// message when it sent one, else a generic description.
func (e *RequestError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status == 0 {
		return "server unreachable"
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

func newStatusError(method, url string, status int, body []byte) *RequestError {
	return &RequestError{
		Method:  method,
		URL:     url,
		Status:  status,
		Body:    body,
		Message: errorMessage(body),
	}
}

// errorMessage extracts "message" or "error" from a JSON error body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return parsed.Error
}

// AsRequestError unwraps err into a *RequestError.
func AsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsNetwork reports a failure with no HTTP response.
func IsNetwork(err error) bool {
	re, ok := AsRequestError(err)
	return ok && re.Status == 0
}

// IsServer reports an HTTP 5xx failure.
func IsServer(err error) bool {
	re, ok := AsRequestError(err)
	return ok && re.Status >= 500
}

// IsClient reports a definitive rejection (HTTP 4xx). These are never retried.
func IsClient(err error) bool {
	re, ok := AsRequestError(err)
	return ok && re.Status >= 400 && re.Status < 500
}

// IsOffline reports whether err means the API should be considered
// unreachable: a network failure or a server error that outlived retries.
func IsOffline(err error) bool {
	re, ok := AsRequestError(err)
	return ok && re.Retryable()
}

// IsNotFound reports an HTTP 404.
func IsNotFound(err error) bool {
	re, ok := AsRequestError(err)
	return ok && re.Status == 404
}
