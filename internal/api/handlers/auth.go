package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/narvanalabs/build-feed/internal/api/errors"
	"github.com/narvanalabs/build-feed/internal/auth"
	"github.com/narvanalabs/build-feed/internal/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *auth.Service
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authSvc *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authSvc,
		logger:      logger,
	}
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// TokenResponse is returned by login and registration.
type TokenResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteBadRequest(w, r, "email and password are required")
		return
	}

	token, user, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("login failed", "email", req.Email)
		WriteError(w, r, apierrors.FromError(err, "login failed"))
		return
	}

	h.logger.Info("user logged in", "user_id", user.ID)
	WriteJSON(w, http.StatusOK, TokenResponse{Token: token, User: user})
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	var v apierrors.ValidationErrors
	if !strings.Contains(req.Email, "@") {
		v.Add("email", "a valid email is required")
	}
	if len(req.Password) < 6 {
		v.Add("password", "password must be at least 6 characters")
	}
	if v.HasErrors() {
		WriteError(w, r, v.ToAPIError())
		return
	}

	token, user, err := h.authService.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			WriteError(w, r, apierrors.NewConflictError("email already registered"))
			return
		}
		h.logger.Warn("registration failed", "email", req.Email, "error", err)
		WriteError(w, r, apierrors.FromError(err, "registration failed"))
		return
	}

	WriteJSON(w, http.StatusCreated, TokenResponse{Token: token, User: user})
}
