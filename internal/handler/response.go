package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError so the API has one
// error shape:
//
//	{"error": "validation_error", "message": "password must be 8 to 128 characters", "field": "password"}
//
// "error" is machine-readable, "message" is safe to show a user, and
// "field" is only present when one request field caused the failure.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/tripcms/internal/apperror"
)

// maxBodyBytes bounds request bodies; every auth payload is tiny.
const maxBodyBytes = 64 << 10

// ErrorResponse is the error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to its HTTP status.
//
//	ErrValidation   → 400 validation_error
//	ErrInvalidToken → 400 invalid_token
//	ErrUnauthorized → 401 unauthorized
//	ErrForbidden    → 403 forbidden
//	ErrNotFound     → 404 not_found
//	ErrConflict     → 409 conflict
//	ErrRateLimited  → 429 rate_limited
//	anything else   → 500, with the cause logged and never returned
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, code := http.StatusInternalServerError, "internal_error"
		switch {
		case errors.Is(err, apperror.ErrValidation):
			status, code = http.StatusBadRequest, "validation_error"
		case errors.Is(err, apperror.ErrInvalidToken):
			status, code = http.StatusBadRequest, "invalid_token"
		case errors.Is(err, apperror.ErrUnauthorized):
			status, code = http.StatusUnauthorized, "unauthorized"
		case errors.Is(err, apperror.ErrForbidden):
			status, code = http.StatusForbidden, "forbidden"
		case errors.Is(err, apperror.ErrNotFound):
			status, code = http.StatusNotFound, "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status, code = http.StatusConflict, "conflict"
		case errors.Is(err, apperror.ErrRateLimited):
			status, code = http.StatusTooManyRequests, "rate_limited"
		}
		if status != http.StatusInternalServerError {
			writeJSON(w, status, ErrorResponse{Error: code, Message: appErr.Message, Field: appErr.Field})
			return
		}
	}

	slog.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads the request body into dst. Malformed or oversized
// bodies become a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	err := decodeBody(w, r, dst)
	if errors.Is(err, io.EOF) {
		return apperror.ValidationFailed("", "request body is required")
	}
	return err
}

// decodeOptionalJSON is decodeJSON for endpoints where the body may be
// absent. A missing or empty body leaves dst untouched. Content-Length is
// not consulted, so chunked bodies are read too.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := decodeBody(w, r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// decodeBody returns io.EOF for an empty body and a validation error for
// anything that is not a single JSON value within maxBodyBytes.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return apperror.ValidationFailed("", "request body must be valid JSON")
	}
	return nil
}
