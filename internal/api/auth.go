package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tink/internal/auth"
	"tink/internal/models"
)

// CredentialService is the part of auth.CredentialService used by the handlers.
type CredentialService interface {
	Register(ctx context.Context, email, password, name string) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Refresh(ctx context.Context, presented string) (*auth.Session, error)
	Revoke(ctx context.Context, presented string) error
	FindUser(ctx context.Context, id string) (*models.User, error)
}

type AuthHandler struct {
	credentials CredentialService
}

func NewAuthHandler(credentials CredentialService) *AuthHandler {
	return &AuthHandler{credentials: credentials}
}

type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type AuthResponse struct {
	AccessToken        string       `json:"accessToken"`
	RefreshToken       string       `json:"refreshToken"`
	RefreshTokenExpiry string       `json:"refreshTokenExpiry"`
	User               UserResponse `json:"user"`
}

type RefreshResponse struct {
	AccessToken        string `json:"accessToken"`
	RefreshToken       string `json:"refreshToken"`
	RefreshTokenExpiry string `json:"refreshTokenExpiry"`
}

func userResponse(u *models.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Name: u.Name}
}

func authResponse(s *auth.Session) AuthResponse {
	return AuthResponse{
		AccessToken:        s.AccessToken,
		RefreshToken:       s.RefreshToken,
		RefreshTokenExpiry: s.RefreshTokenExpiry.UTC().Format(time.RFC3339),
		User:               userResponse(s.User),
	}
}

// POST /api/auth/register
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=100"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	session, err := h.credentials.Register(r.Context(), req.Email, req.Password, sanitizeText(req.Name))
	if errors.Is(err, auth.ErrEmailTaken) {
		conflict(w, "Email is already registered")
		return
	}
	if errors.Is(err, auth.ErrPasswordTooLong) {
		badRequest(w, "password must be at most 72 bytes")
		return
	}
	if err != nil {
		serverError(w, r, "error registering user", err)
		return
	}

	slog.Info("user registered", "user_id", session.User.ID)
	writeJSON(w, http.StatusCreated, authResponse(session))
}

// POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	session, err := h.credentials.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeAuthError(w, false, "Invalid email or password")
		return
	}
	if err != nil {
		serverError(w, r, "error logging in", err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse(session))
}

// POST /api/auth/refresh-token
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	session, err := h.credentials.Refresh(r.Context(), req.RefreshToken)
	if errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		writeAuthError(w, false, "Invalid or expired refresh token")
		return
	}
	if errors.Is(err, auth.ErrUserNotFound) {
		writeAuthError(w, false, "User not found")
		return
	}
	if err != nil {
		serverError(w, r, "error refreshing token", err)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{
		AccessToken:        session.AccessToken,
		RefreshToken:       session.RefreshToken,
		RefreshTokenExpiry: session.RefreshTokenExpiry.UTC().Format(time.RFC3339),
	})
}

// POST /api/auth/logout
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// The body is optional; chunked requests report ContentLength -1 even when empty.
	var req LogoutRequest
	if err := decodeAndValidate(r.Body, &req); err != nil && !errors.Is(err, errEmptyBody) {
		badRequest(w, err.Error())
		return
	}

	if err := h.credentials.Revoke(r.Context(), req.RefreshToken); err != nil {
		serverError(w, r, "error revoking refresh token", err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "User not found in context")
		return
	}

	user, err := h.credentials.FindUser(r.Context(), userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		serverError(w, r, "error finding user", err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse(user))
}
