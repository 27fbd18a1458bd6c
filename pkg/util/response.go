package util

import "time"

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
	Details    any       `json:"details,omitempty"`
	StatusCode int       `json:"statusCode"`
	Timestamp  time.Time `json:"timestamp"`
	Path       string    `json:"path,omitempty"`
}

// Success wraps a payload in a successful envelope.
func Success(message string, data any, status int, path string) APIResponse {
	return APIResponse{
		Success:    true,
		Message:    message,
		Data:       data,
		StatusCode: status,
		Timestamp:  time.Now().UTC(),
		Path:       path,
	}
}

// Failure renders a DomainError as a terminal envelope.
func Failure(err *DomainError, path string) APIResponse {
	resp := APIResponse{
		Success:    false,
		Message:    err.Message,
		Error:      err.Code,
		StatusCode: err.HTTPStatus,
		Timestamp:  time.Now().UTC(),
		Path:       path,
	}
	if len(err.Details) > 0 {
		resp.Details = err.Details
	}
	return resp
}
