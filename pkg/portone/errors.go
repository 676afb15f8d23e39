package portone

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned for any non-2xx PortOne response.
type APIError struct {
	Endpoint   string
	StatusCode int
	// Type and Message are taken from the PortOne error body when present.
	Type    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Type != "" || e.Message != "" {
		return fmt.Sprintf("portone %s: status %d: %s: %s", e.Endpoint, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("portone %s: status %d, body: %s", e.Endpoint, e.StatusCode, e.Body)
}

func newAPIError(endpoint string, status int, body []byte) *APIError {
	apiErr := &APIError{Endpoint: endpoint, StatusCode: status, Body: string(body)}

	var payload struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Type = payload.Type
		apiErr.Message = payload.Message
	}
	return apiErr
}

// IsNotFound reports whether err is a PortOne 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// StatusCode returns the HTTP status of a PortOne error, or 0 for anything else.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
