package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/narvanalabs/build-feed/internal/api/errors"
	"github.com/narvanalabs/build-feed/internal/api/middleware"
	"github.com/narvanalabs/build-feed/internal/store"
)

// UserHandler handles user-related HTTP requests.
type UserHandler struct {
	store  store.Store
	logger *slog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(st store.Store, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		store:  st,
		logger: logger,
	}
}

// GetProfile handles GET /v1/user/profile. The web UI uses it to confirm that
// a session token still maps to an existing user.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		WriteError(w, r, apierrors.NewUnauthorizedError("unauthorized"))
		return
	}

	user, err := h.store.Users().GetByID(r.Context(), userID)
	if err != nil {
		h.logger.Debug("failed to get user profile", "error", err, "user_id", userID)
		WriteError(w, r, apierrors.FromError(err, "user not found"))
		return
	}

	WriteJSON(w, http.StatusOK, user)
}
