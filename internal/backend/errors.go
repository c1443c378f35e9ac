package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized is returned when the backend rejects the session (HTTP 401).
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrForbidden is returned on HTTP 403.
	ErrForbidden = errors.New("backend: forbidden")
	// ErrNotFound is returned on HTTP 404.
	ErrNotFound = errors.New("backend: not found")
	// ErrValidation is returned on HTTP 400 and 422.
	ErrValidation = errors.New("backend: validation failed")
	// ErrUnavailable wraps transport failures and 5xx responses.
	ErrUnavailable = errors.New("backend: unavailable")
)

// Error describes a non-2xx backend response.
type Error struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: status %d", e.Status)
	}
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

// Unwrap maps the status code onto the package sentinels.
func (e *Error) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return ErrForbidden
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity:
		return ErrValidation
	case e.Status >= 500:
		return ErrUnavailable
	}
	return nil
}

// errorBody covers the shapes the backend uses for error payloads.
type errorBody struct {
	Message json.RawMessage   `json:"message"`
	Error   string            `json:"error"`
	Errors  map[string]string `json:"errors"`
}

func errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &Error{Status: resp.StatusCode}
	var body errorBody
	if len(raw) > 0 && json.Unmarshal(raw, &body) == nil {
		apiErr.Message = decodeMessage(body.Message)
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
		apiErr.Fields = body.Errors
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// decodeMessage accepts either a string or a list of strings.
func decodeMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return strings.Join(many, "; ")
	}
	return ""
}

// Message returns a text safe to show to end users.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" && apiErr.Status < 500 {
		return apiErr.Message
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrForbidden):
		return "You are not allowed to perform this action."
	case errors.Is(err, ErrNotFound):
		return "The requested record was not found."
	case errors.Is(err, ErrValidation):
		return "Some fields are invalid."
	}
	return "The service is temporarily unavailable. Please try again."
}
