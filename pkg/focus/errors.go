package focus

import (
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the Focus API after retries were
// exhausted or the status was not retryable.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("focus: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// retryableStatus reports whether a response status is worth retrying.
// 429 is handled separately via the limiter's Retry-After path.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
