package pulse

import (
	"errors"
	"fmt"
)

// AuthenticationError is returned when the API rejects the access token.
// It is terminal: requests failing with it are never retried.
type AuthenticationError struct {
	StatusCode int
	Body       string
}

func (e *AuthenticationError) Error() string {
	return "pulse: invalid access token"
}

// APIError covers every other failed request: bad status codes, network
// failures, timeouts and an exhausted rate-limit budget. StatusCode is zero
// when no response was received.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("pulse: api request failed: %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("pulse: %s: %v", e.Message, e.Err)
	default:
		return "pulse: " + e.Message
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// IsAuthentication reports whether err is, or wraps, an AuthenticationError.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
