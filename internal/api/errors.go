package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNetwork wraps failures where no response was received.
var ErrNetwork = errors.New("network unavailable")

// Error is a non 2xx response.
type Error struct {
	Status  int
	Message string
	Errors  []string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, msg)
}

func statusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsValidation reports a 400 or 422 with field level messages.
func IsValidation(err error) bool {
	s := statusOf(err)
	return s == http.StatusBadRequest || s == http.StatusUnprocessableEntity
}

func IsUnauthorized(err error) bool { return statusOf(err) == http.StatusUnauthorized }
func IsForbidden(err error) bool    { return statusOf(err) == http.StatusForbidden }
func IsNotFound(err error) bool     { return statusOf(err) == http.StatusNotFound }
func IsConflict(err error) bool     { return statusOf(err) == http.StatusConflict }
func IsTooLarge(err error) bool     { return statusOf(err) == http.StatusRequestEntityTooLarge }

func IsUnsupportedMedia(err error) bool {
	return statusOf(err) == http.StatusUnsupportedMediaType
}

func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// decodeError builds an Error from the body. The backend answers with plain text, a
// {"message": ...} object or a {"Validation errors": [...]} object.
func decodeError(status int, body []byte) *Error {
	e := &Error{Status: status}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return e
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		e.Message = text
		return e
	}

	if raw, ok := obj["message"]; ok {
		_ = json.Unmarshal(raw, &e.Message)
	}
	for _, key := range []string{"Validation errors", "errors"} {
		if raw, ok := obj[key]; ok {
			_ = json.Unmarshal(raw, &e.Errors)
		}
	}
	if e.Message == "" && len(e.Errors) == 0 {
		e.Message = text
	}
	return e
}
