package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/nearby/internal/apperror"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		want    ErrorResponse
		logsErr bool
	}{
		{
			name:   "validation keeps field",
			err:    fmt.Errorf("registering: %w", apperror.ValidationFailed("email", "email is not a valid address")),
			status: http.StatusBadRequest,
			want:   ErrorResponse{Error: "validation_error", Message: "email is not a valid address", Field: "email"},
		},
		{
			name:   "not found",
			err:    apperror.NotFound("account", "abc"),
			status: http.StatusNotFound,
			want:   ErrorResponse{Error: "not_found", Message: apperror.NotFound("account", "abc").Message},
		},
		{
			name:   "unauthorized",
			err:    apperror.Unauthorized("invalid email or password"),
			status: http.StatusUnauthorized,
			want:   ErrorResponse{Error: "unauthorized", Message: "invalid email or password"},
		},
		{
			name:    "backend outage hides the cause",
			err:     apperror.BackendUnavailable("listing posts", errors.New("dial tcp 10.0.0.5:5432: refused")),
			status:  http.StatusServiceUnavailable,
			want:    ErrorResponse{Error: "backend_unavailable", Message: "The service is temporarily unavailable, please try again"},
			logsErr: true,
		},
		{
			name:    "unknown error is a generic 500",
			err:     errors.New("sql: no such table: accounts"),
			status:  http.StatusInternalServerError,
			want:    ErrorResponse{Error: "internal_error", Message: "An internal error occurred"},
			logsErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))

			rec := httptest.NewRecorder()
			writeError(rec, logger, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var got ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)

			if tt.logsErr {
				assert.Contains(t, logs.String(), "level=ERROR")
			} else {
				assert.Empty(t, logs.String())
			}
		})
	}
}

func TestFormValues(t *testing.T) {
	t.Run("json numbers become text", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"joe","latitude":40.7589,"flag":true,"bio":null}`))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")

		get, err := formValues(httptest.NewRecorder(), r)
		require.NoError(t, err)
		assert.Equal(t, "joe", get("name"))
		assert.Equal(t, "40.7589", get("latitude"))
		assert.Equal(t, "true", get("flag"))
		assert.Equal(t, "", get("bio"))
		assert.Equal(t, "", get("missing"))
	})

	t.Run("form", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("name=ann&latitude=40.75"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		get, err := formValues(httptest.NewRecorder(), r)
		require.NoError(t, err)
		assert.Equal(t, "ann", get("name"))
		assert.Equal(t, "40.75", get("latitude"))
	})

	t.Run("empty json body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		r.Header.Set("Content-Type", "application/json")

		get, err := formValues(httptest.NewRecorder(), r)
		require.NoError(t, err)
		assert.Equal(t, "", get("name"))
	})

	t.Run("nested values are rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":["a","b"]}`))
		r.Header.Set("Content-Type", "application/json")

		_, err := formValues(httptest.NewRecorder(), r)
		var appErr *apperror.AppError
		require.True(t, errors.As(err, &appErr), "error = %v", err)
		assert.Equal(t, "name", appErr.Field)
	})
}
