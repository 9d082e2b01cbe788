package session

import "fmt"

// ValidationError reports bad session settings. It is raised before any
// network call happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// APIError reports a failed session API call.
type APIError struct {
	Op         string // create, token, end
	StatusCode int    // 0 when the request never got a response
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("session api %s failed: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("session api %s failed: %s", e.Op, e.Message)
}
