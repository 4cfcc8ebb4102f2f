package jenkins

import (
	"fmt"
	"net/http"
)

// RequestError reports a transport-level failure before any response arrived.
type RequestError struct {
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *StatusError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// ParseError reports a response body that was not valid JSON.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse response from %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
