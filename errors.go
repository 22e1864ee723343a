package signet

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSignedIn is returned by calls that need a session token the client does not hold
	ErrNotSignedIn = errors.New("not signed in")

	// ErrUnexpectedResponse is returned when the server answers with a body the client cannot read
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
	// Reason is the coarse failure category sent with 401 responses
	Reason string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("signet: %d %s (%s)", e.StatusCode, e.Message, e.Reason)
	}
	return fmt.Sprintf("signet: %d %s", e.StatusCode, e.Message)
}
