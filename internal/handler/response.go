package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON and writeError, so every error the
// API returns has the same shape:
//   {"error": "validation_error", "message": "email is not a valid address", "field": "email"}
//
// "error" is the machine-readable kind, "message" is safe to show to a user,
// and "field" names the offending input when there is one.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/sakif/nearby/internal/apperror"
)

// maxBodyBytes caps request bodies. Posts and messages are limited to a few
// kilobytes, so a megabyte is generous.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error kind (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending input, for validation and conflict errors
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "validation_error":
		return http.StatusBadRequest
	case "unauthorized":
		return http.StatusUnauthorized
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "backend_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it.
//
// Only *apperror.AppError messages reach the client. Anything else is logged
// and answered with a generic 500, since a raw error may contain SQL, file
// paths or hostnames. Backend outages get their own 503 with a fixed message
// for the same reason.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperror.Kind(err)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || kind == "internal_error" {
		logger.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	if kind == "backend_unavailable" {
		logger.Error("storage backend unavailable", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   kind,
			Message: "The service is temporarily unavailable, please try again",
		})
		return
	}

	writeJSON(w, statusFor(kind), ErrorResponse{
		Error:   kind,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// formValues reads the request body as either a JSON object or an HTML form
// and returns a lookup over its fields. JSON numbers and booleans are
// rendered back to their text form so both encodings share one parser.
func formValues(w http.ResponseWriter, r *http.Request) (func(string) string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, apperror.ValidationFailed("body", "request body could not be read")
		}
		return r.PostForm.Get, nil
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return func(string) string { return "" }, nil
		}
		return nil, apperror.ValidationFailed("body", "request body must be a JSON object")
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
		case string:
			values[k] = v
		case float64:
			values[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			values[k] = strconv.FormatBool(v)
		default:
			return nil, apperror.ValidationFailed(k, fmt.Sprintf("%s must be a string or number", k))
		}
	}
	return func(k string) string { return values[k] }, nil
}
