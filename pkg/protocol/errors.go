package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport covers non-2xx responses, network failures and timeouts.
	ErrTransport = errors.New("transport error")
	// ErrMalformedResponse is returned when a response body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrMissingField is returned when a tool call lacks a required argument.
	ErrMissingField = errors.New("missing field")
)

// TransportError describes a failed outbound call. It matches ErrTransport
// under errors.Is.
type TransportError struct {
	Service    string
	StatusCode int    // 0 when no response was received
	Body       string // response excerpt, if any
	Err        error  // underlying network error, if any
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s: api error (status %d): %s", e.Service, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: api error (status %d)", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: http request: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTransport, e.Err}
	}
	return []error{ErrTransport}
}
