package homeassistant

import "fmt"

// APIError is returned when Home Assistant answers with a non-2xx
// status. Body holds the (truncated) response text so it can be shown
// to the model or the caller verbatim.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}
