package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "pending", response["status"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusNoContent, nil)
		require.NoError(t, err)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestSuccessWriters(t *testing.T) {
	tests := []struct {
		name    string
		write   func(w http.ResponseWriter) error
		status  int
		message string
	}{
		{"ok", func(w http.ResponseWriter) error { return WriteOK(w, map[string]string{"id": "a-1"}) }, http.StatusOK, ""},
		{"created", func(w http.ResponseWriter) error { return WriteCreated(w, map[string]string{"id": "a-1"}) }, http.StatusCreated, ""},
		{"accepted", func(w http.ResponseWriter) error {
			return WriteAccepted(w, map[string]string{"id": "a-1"}, "held for approval")
		}, http.StatusAccepted, "held for approval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.status, w.Code)

			var response SuccessResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, "a-1", response.Data.(map[string]interface{})["id"])
			assert.Equal(t, tt.message, response.Message)
		})
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name              string
		status            int
		message           string
		expectedErrorType string
		expectedMessage   string
	}{
		{"bad request", http.StatusBadRequest, "Invalid input", "bad_request", "Invalid input"},
		{"unauthorized fallback", http.StatusUnauthorized, "", "unauthorized", "Authentication required"},
		{"forbidden", http.StatusForbidden, "Operators only", "forbidden", "Operators only"},
		{"not found fallback", http.StatusNotFound, "", "not_found", "Resource not found"},
		{"conflict", http.StatusConflict, "Already executed", "conflict", "Already executed"},
		{"bad gateway", http.StatusBadGateway, "Discord unreachable", "bad_gateway", "Discord unreachable"},
		{"store unavailable", http.StatusServiceUnavailable, "Audit store unavailable", "service_unavailable", "Audit store unavailable"},
		{"internal fallback", http.StatusInternalServerError, "", "internal_error", "Internal server error"},
		{"unknown status defaults to internal error", http.StatusTeapot, "", "internal_error", "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			require.NoError(t, WriteError(w, tt.status, tt.message, nil))

			assert.Equal(t, tt.status, w.Code)
			response := decodeError(t, w)
			assert.Equal(t, tt.expectedErrorType, response.Error)
			assert.Equal(t, tt.expectedMessage, response.Message)
		})
	}
}

func TestErrorWrappers(t *testing.T) {
	t.Run("details are carried", func(t *testing.T) {
		w := httptest.NewRecorder()
		details := map[string]interface{}{"failed": []string{"audit_store"}}

		require.NoError(t, WriteServiceUnavailable(w, "", details))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		response := decodeError(t, w)
		assert.Equal(t, "Service unavailable", response.Message)
		assert.Equal(t, []interface{}{"audit_store"}, response.Details["failed"])
	})

	t.Run("status per wrapper", func(t *testing.T) {
		cases := map[int]func(w http.ResponseWriter) error{
			http.StatusBadRequest:          func(w http.ResponseWriter) error { return WriteBadRequest(w, "x", nil) },
			http.StatusUnauthorized:        func(w http.ResponseWriter) error { return WriteUnauthorized(w, "x") },
			http.StatusForbidden:           func(w http.ResponseWriter) error { return WriteForbidden(w, "x") },
			http.StatusNotFound:            func(w http.ResponseWriter) error { return WriteNotFound(w, "x") },
			http.StatusConflict:            func(w http.ResponseWriter) error { return WriteConflict(w, "x", nil) },
			http.StatusBadGateway:          func(w http.ResponseWriter) error { return WriteBadGateway(w, "x", nil) },
			http.StatusInternalServerError: func(w http.ResponseWriter) error { return WriteInternalServerError(w, "x") },
		}
		for status, write := range cases {
			w := httptest.NewRecorder()
			require.NoError(t, write(w))
			assert.Equal(t, status, w.Code)
			assert.Equal(t, "x", decodeError(t, w).Message)
		}
	})
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		DecidedBy string `json:"decided_by"`
	}

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"decided_by":"op-1"}`))
		var b body
		require.NoError(t, DecodeJSON(r, &b, false))
		assert.Equal(t, "op-1", b.DecidedBy)
	})

	t.Run("empty body allowed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		var b body
		require.NoError(t, DecodeJSON(r, &b, true))
		assert.Empty(t, b.DecidedBy)
	})

	t.Run("empty body required", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		var b body
		assert.ErrorIs(t, DecodeJSON(r, &b, false), ErrEmptyBody)
	})

	t.Run("truncated body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"decided_by":`))
		var b body
		err := DecodeJSON(r, &b, true)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrEmptyBody)
	})

	t.Run("oversized body is cut off", func(t *testing.T) {
		payload := `{"decided_by":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		var b body
		assert.Error(t, DecodeJSON(r, &b, false))
	})
}

func TestQueryInt(t *testing.T) {
	q := url.Values{
		"limit":  []string{"25"},
		"big":    []string{"501"},
		"zero":   []string{"0"},
		"junk":   []string{"ten"},
		"signed": []string{"-3"},
	}

	n, err := QueryInt(q, "limit", 100, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = QueryInt(q, "absent", 100, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = QueryInt(q, "big", 100, 1, 500)
	assert.EqualError(t, err, "big must be an integer between 1 and 500")

	_, err = QueryInt(q, "zero", 100, 1, 500)
	assert.Error(t, err)

	_, err = QueryInt(q, "junk", 0, 0, 0)
	assert.EqualError(t, err, "junk must be an integer of at least 0")

	_, err = QueryInt(q, "signed", 0, 0, 0)
	assert.Error(t, err)

	n, err = QueryInt(q, "zero", 5, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
