// Package handler exposes the identity routes: aidant login and activity
// checks, organisation and aidant registration, and usager email updates.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"aidantsconnect/internal/identity"
	"aidantsconnect/internal/platform/middleware"
	dErrors "aidantsconnect/pkg/domain-errors"
	"aidantsconnect/pkg/platform/httputil"
)

type Handler struct {
	identity *identity.Service
	sessions middleware.SessionValidator
	logger   *slog.Logger
}

func New(identitySvc *identity.Service, sessions middleware.SessionValidator, logger *slog.Logger) *Handler {
	return &Handler{identity: identitySvc, sessions: sessions, logger: logger}
}

// Register mounts the identity routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/organisations", h.handleRegisterOrganisation)
	r.Delete("/organisations/{id}", h.handleDeleteOrganisation)
	r.Post("/aidants", h.handleRegisterAidant)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAidant(h.sessions, h.logger))
		r.Post("/activity-check", h.handleActivityCheck)
		r.Put("/usagers/{id}/email", h.handleUpdateUsagerEmail)
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	AidantID string `json:"aidant_id"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	token, aidant, err := h.identity.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loginResponse{Token: token, AidantID: aidant.ID.String()})
}

type registerOrganisationRequest struct {
	Name    string `json:"name"`
	SIRET   int64  `json:"siret"`
	Address string `json:"address"`
}

func (h *Handler) handleRegisterOrganisation(w http.ResponseWriter, r *http.Request) {
	var req registerOrganisationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	org, err := h.identity.RegisterOrganisation(r.Context(), req.Name, req.SIRET, req.Address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, org)
}

func (h *Handler) handleDeleteOrganisation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid organisation id"))
		return
	}
	if err := h.identity.DeleteOrganisation(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerAidantRequest struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Profession     string `json:"profession"`
	Password       string `json:"password"`
	OrganisationID string `json:"organisation_id"`
}

func (h *Handler) handleRegisterAidant(w http.ResponseWriter, r *http.Request) {
	var req registerAidantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	var organisationID *uuid.UUID
	if req.OrganisationID != "" {
		id, err := uuid.Parse(req.OrganisationID)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid organisation id"))
			return
		}
		organisationID = &id
	}
	aidant, err := h.identity.RegisterAidant(r.Context(), req.Email, req.FirstName, req.LastName,
		req.Profession, req.Password, organisationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, aidant)
}

func (h *Handler) handleActivityCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	aidantID, err := uuid.Parse(middleware.GetAidantID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	if err := h.identity.ActivityCheck(ctx, aidantID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateEmailRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleUpdateUsagerEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	aidantID, err := uuid.Parse(middleware.GetAidantID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	usagerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid usager id"))
		return
	}
	var req updateEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	usager, err := h.identity.UpdateUsagerEmail(ctx, aidantID, usagerID, req.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, usager)
}
