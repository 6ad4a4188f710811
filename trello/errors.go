package trello

import (
	"errors"
	"fmt"
)

// ErrConnection indicates that the Trello API could not be reached at the
// transport level. Callers treat it as distinct from remote rejections so a
// run can be reported as a connectivity failure.
var ErrConnection = errors.New("trello: connection failed")

// ErrAuthentication indicates the API rejected the credentials (HTTP 401).
// Surfaced separately so callers can prompt for re-authorization instead of
// treating the failure as transient.
var ErrAuthentication = errors.New("trello: authentication failed")

// UnsupportedMethodError is a configuration error: the gateway was asked to
// issue a request with an HTTP method outside GET/POST/PUT/DELETE.
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("trello: HTTP method %q not supported", e.Method)
}

// RequestError carries the status code and response body of any non-2xx
// response that is neither a transport failure nor a 401.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("trello: request failed with code %d and message '%s'", e.StatusCode, e.Body)
}
