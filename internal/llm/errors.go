package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-success HTTP response from a model endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: API error %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is, or wraps, a 429 from a provider.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
