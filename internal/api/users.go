package api

import (
	"errors"
	"net/http"
	"time"

	"tink/internal/db"
)

type UserHandler struct {
	users        *db.UserRepository
	queryTimeout time.Duration
}

func NewUserHandler(users *db.UserRepository, queryTimeout time.Duration) *UserHandler {
	return &UserHandler{users: users, queryTimeout: queryTimeout}
}

type UpdateUserRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// PATCH /api/auth/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "User not found in context")
		return
	}

	var req UpdateUserRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	name := sanitizeText(req.Name)
	if name == "" {
		badRequest(w, "name must contain text")
		return
	}

	ctx, cancel := withTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	if err := h.users.UpdateName(ctx, userID, name); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "User not found")
			return
		}
		serverError(w, r, "error updating user", err)
		return
	}

	user, err := h.users.FindByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		serverError(w, r, "error finding user", err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse(user))
}
