// Package handler contains the JSON HTTP handlers.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the request (path params, query, JSON or multipart body)
// 2. Call the service or session layer
// 3. Write the response (status code, headers, JSON body)
//
// Handlers hold no business rules; they are the glue between HTTP and
// internal/service and internal/session.
package handler

// RESPONSE HELPERS:
// Every handler answers with JSON. Errors always have the same shape:
//
//	{"error": "validation_error", "message": "Please enter a valid email address.", "field": "email"}
//
// so the frontend can show the message next to the right input.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/gemix-chat/internal/apperror"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Form field the error refers to, if any
}

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; anything set afterwards is ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status and sends it.
//
// The service layer never knows about status codes; this is the one place
// where apperror sentinels become 400/401/403/404/409. Anything that is not
// an *apperror.AppError is logged and reported as a generic 500, so SQL or
// upstream details never reach the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	// A turn replaced by a newer one on the same session.
	if errors.Is(err, context.Canceled) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "cancelled",
			Message: "This request was replaced by a newer one.",
		})
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, errorType := classify(err)
		if status == http.StatusInternalServerError {
			logger.Error("request failed", slog.String("error", err.Error()))
		}
		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}

	logger.Error("request failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrDuplicateUsername):
		return http.StatusConflict, "duplicate_username"
	case errors.Is(err, apperror.ErrDuplicateEmail):
		return http.StatusConflict, "duplicate_email"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads a JSON body into dst. Unknown fields are rejected so a
// misspelled form field shows up as a 400 instead of an empty value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("", fmt.Sprintf("Invalid JSON body: %v", err))
	}
	return nil
}
