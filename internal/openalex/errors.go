package openalex

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the OpenAlex client.
var (
	// ErrNotFound indicates the requested work does not exist.
	ErrNotFound = errors.New("work not found in OpenAlex")

	// ErrInvalidDOI indicates a DOI that is not of the form 10.<registrant>/<suffix>.
	ErrInvalidDOI = errors.New("malformed DOI")

	// ErrRateLimited indicates the API throttled the client.
	ErrRateLimited = errors.New("OpenAlex rate limit exceeded")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error communicating with OpenAlex")

	// ErrInvalidResponse indicates an unexpected API response.
	ErrInvalidResponse = errors.New("invalid response from OpenAlex")

	// ErrRetriesExhausted indicates a transient failure outlived the retry budget.
	ErrRetriesExhausted = errors.New("OpenAlex request retries exhausted")
)

// APIError represents a non-success HTTP status from the API.
type APIError struct {
	StatusCode int
	URL        string
	Message    string // Truncated response body
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("OpenAlex API error (status %d) for %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("OpenAlex API error (status %d) for %s", e.StatusCode, e.URL)
}

// IsNotFound returns true if the error indicates a missing work.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRateLimited returns true if the error indicates throttling.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// retryableStatus reports whether a status code is worth retrying.
// OpenAlex answers throttled clients with 403 as well as 429.
func retryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusForbidden:
		return true
	case code == http.StatusRequestTimeout:
		return true
	case code >= 500 && code < 600:
		return true
	}
	return false
}
