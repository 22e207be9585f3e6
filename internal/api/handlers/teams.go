package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/narvanalabs/build-feed/internal/api/errors"
	"github.com/narvanalabs/build-feed/internal/store"
)

// TeamHandler handles team-related HTTP requests.
type TeamHandler struct {
	store  store.Store
	logger *slog.Logger
}

// NewTeamHandler creates a new team handler.
func NewTeamHandler(st store.Store, logger *slog.Logger) *TeamHandler {
	return &TeamHandler{
		store:  st,
		logger: logger,
	}
}

// CreateTeamRequest is the body of POST /v1/teams. Members are user ids.
type CreateTeamRequest struct {
	Name    string   `json:"name"`
	About   string   `json:"about"`
	Color   string   `json:"color"`
	Members []string `json:"members,omitempty"`
}

// Validate reports every missing field.
func (req CreateTeamRequest) Validate() apierrors.ValidationErrors {
	var v apierrors.ValidationErrors
	if req.Name == "" {
		v.Add("name", "name is required")
	}
	if req.About == "" {
		v.Add("about", "about is required")
	}
	if req.Color == "" {
		v.Add("color", "color is required")
	}
	return v
}

// Create handles POST /v1/teams. Member ids that match no user are skipped.
func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if v := req.Validate(); v.HasErrors() {
		WriteError(w, r, v.ToAPIError())
		return
	}

	var team *store.Team
	err := h.store.WithTx(r.Context(), func(tx store.Store) error {
		created := &store.Team{Name: req.Name, About: req.About, Color: req.Color}
		if err := tx.Teams().Create(r.Context(), created); err != nil {
			return err
		}

		members := make([]string, 0, len(req.Members))
		for _, id := range req.Members {
			if _, err := tx.Users().GetByID(r.Context(), id); err != nil {
				h.logger.Debug("skipping unknown team member", "user_id", id)
				continue
			}
			members = append(members, id)
		}
		if err := tx.Teams().SetMembers(r.Context(), created.ID, members); err != nil {
			return err
		}

		var err error
		team, err = tx.Teams().Get(r.Context(), created.ID)
		return err
	})
	if err != nil {
		h.logger.Error("failed to create team", "error", err, "name", req.Name)
		WriteError(w, r, apierrors.FromError(err, "failed to create team"))
		return
	}

	h.logger.Info("team created", "team_id", team.ID, "members", len(team.Members))
	WriteJSON(w, http.StatusCreated, team)
}

// Get handles GET /v1/teams/{teamID}.
func (h *TeamHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "teamID"), 10, 64)
	if err != nil {
		WriteBadRequest(w, r, "invalid team id")
		return
	}

	team, err := h.store.Teams().Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, apierrors.FromError(err, "team not found"))
		return
	}
	WriteJSON(w, http.StatusOK, team)
}
