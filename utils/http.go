package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// MaxBodyBytes caps request bodies read through DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrEmptyBody is returned by DecodeJSON when the body is required but empty.
var ErrEmptyBody = errors.New("request body is empty")

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// errorCodes maps a status to its machine-readable error code and the
// message used when the caller passes none.
var errorCodes = map[int]struct {
	code     string
	fallback string
}{
	http.StatusBadRequest:          {"bad_request", "Invalid request"},
	http.StatusUnauthorized:        {"unauthorized", "Authentication required"},
	http.StatusForbidden:           {"forbidden", "Access forbidden"},
	http.StatusNotFound:            {"not_found", "Resource not found"},
	http.StatusConflict:            {"conflict", "Conflicting state"},
	http.StatusBadGateway:          {"bad_gateway", "Upstream service failed"},
	http.StatusServiceUnavailable:  {"service_unavailable", "Service unavailable"},
	http.StatusInternalServerError: {"internal_error", "Internal server error"},
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with optional data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteCreated writes a 201 Created response with optional data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, SuccessResponse{Data: data})
}

// WriteAccepted writes a 202 response for work held for a later decision
func WriteAccepted(w http.ResponseWriter, data interface{}, message string) error {
	return WriteJSON(w, http.StatusAccepted, SuccessResponse{Data: data, Message: message})
}

// WriteError writes an error envelope for status. Unknown statuses are
// reported as internal errors.
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	entry, ok := errorCodes[status]
	if !ok {
		entry = errorCodes[http.StatusInternalServerError]
	}
	if message == "" {
		message = entry.fallback
	}
	return WriteJSON(w, status, ErrorResponse{
		Error:   entry.code,
		Message: message,
		Details: details,
	})
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusUnauthorized, message, nil)
}

// WriteForbidden writes a 403 Forbidden response
func WriteForbidden(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusForbidden, message, nil)
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusNotFound, message, nil)
}

// WriteConflict writes a 409 Conflict response
func WriteConflict(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusConflict, message, details)
}

// WriteBadGateway writes a 502 response for failed upstream calls
func WriteBadGateway(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadGateway, message, details)
}

// WriteServiceUnavailable writes a 503 response, used when a backing store is down
func WriteServiceUnavailable(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusServiceUnavailable, message, details)
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusInternalServerError, message, nil)
}

// DecodeJSON reads a JSON body of at most MaxBodyBytes into v. With
// allowEmpty an absent body leaves v untouched.
func DecodeJSON(r *http.Request, v interface{}, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return ErrEmptyBody
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return ErrEmptyBody
		}
		return err
	}
	return nil
}

// QueryInt parses an optional integer query parameter. It returns def when
// the parameter is absent and an error when the value is not an integer in
// [min, max]. A max of 0 means unbounded.
func QueryInt(q url.Values, key string, def, min, max int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || (max > 0 && n > max) {
		if max > 0 {
			return 0, fmt.Errorf("%s must be an integer between %d and %d", key, min, max)
		}
		return 0, fmt.Errorf("%s must be an integer of at least %d", key, min)
	}
	return n, nil
}
