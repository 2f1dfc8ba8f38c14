package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tink/internal/constants"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthErrorResponse lets a client tell an expired access token, which a
// refresh can fix, from one that needs a new login.
type AuthErrorResponse struct {
	Error   ErrorDetail `json:"error"`
	Expired bool        `json:"expired"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func writeAuthError(w http.ResponseWriter, expired bool, message string) {
	code := constants.ErrCodeAuthFailed
	if expired {
		code = constants.ErrCodeAuthExpired
	}
	writeJSON(w, http.StatusUnauthorized, AuthErrorResponse{
		Error:   ErrorDetail{Code: code, Message: message},
		Expired: expired,
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, constants.ErrCodeInvalidRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, constants.ErrCodeUnauthorized, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, constants.ErrCodeNotFound, message)
}

func conflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, constants.ErrCodeConflict, message)
}

func payloadTooLarge(w http.ResponseWriter, message string) {
	writeError(w, http.StatusRequestEntityTooLarge, constants.ErrCodePayloadTooLarge, message)
}

func unsupportedMediaType(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnsupportedMediaType, constants.ErrCodeUnsupportedMediaType, message)
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusTooManyRequests, constants.ErrCodeRateLimited, "Too many requests, please try again later")
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, constants.ErrCodeInternal, "An internal error occurred")
}

// serverError logs err and answers 504 for timeouts and 500 otherwise. The
// client never sees err itself.
func serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn(msg, "error", err, "path", r.URL.Path)
		writeError(w, http.StatusGatewayTimeout, constants.ErrCodeTimeout, "The operation timed out")
		return
	}

	slog.Error(msg, "error", err, "path", r.URL.Path)
	internalError(w)
}
