// Package handler exposes the mandate lifecycle routes, all behind aidant
// session auth.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"aidantsconnect/internal/mandate"
	"aidantsconnect/internal/mandate/models"
	autorisationstore "aidantsconnect/internal/mandate/store/autorisation"
	"aidantsconnect/internal/platform/middleware"
	dErrors "aidantsconnect/pkg/domain-errors"
	"aidantsconnect/pkg/platform/httputil"
)

type Handler struct {
	mandates *mandate.Service
	sessions middleware.SessionValidator
	logger   *slog.Logger
}

func New(mandateSvc *mandate.Service, sessions middleware.SessionValidator, logger *slog.Logger) *Handler {
	return &Handler{mandates: mandateSvc, sessions: sessions, logger: logger}
}

// Register mounts the mandate routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAidant(h.sessions, h.logger))
		r.Post("/mandats", h.handleCreateMandat)
		r.Get("/usagers", h.handleListUsagers)
		r.Get("/usagers/{id}/autorisations", h.handleListAutorisations)
		r.Post("/autorisations/{id}/revoke", h.handleRevokeAutorisation)
	})
}

type createMandatRequest struct {
	UsagerID  string   `json:"usager_id"`
	Demarches []string `json:"demarches"`
	Duree     string   `json:"duree"`
	IsRemote  bool     `json:"is_remote"`
}

func (h *Handler) handleCreateMandat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	aidantID, err := uuid.Parse(middleware.GetAidantID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	var req createMandatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	usagerID, err := uuid.Parse(req.UsagerID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid usager id"))
		return
	}
	result, err := h.mandates.CreateMandat(ctx, aidantID, usagerID, req.Demarches,
		models.DureeKeyword(req.Duree), req.IsRemote)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleListUsagers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	aidantID, err := uuid.Parse(middleware.GetAidantID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	usagers, err := h.mandates.UsagersVisibleBy(ctx, aidantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"usagers": usagers})
}

func (h *Handler) handleListAutorisations(w http.ResponseWriter, r *http.Request) {
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
	status := autorisationstore.Status(r.URL.Query().Get("status"))
	switch status {
	case autorisationstore.StatusAny, autorisationstore.StatusActive, autorisationstore.StatusInactive,
		autorisationstore.StatusExpired, autorisationstore.StatusRevoked:
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown status filter"))
		return
	}

	autorisations, err := h.mandates.AutorisationsForUsager(ctx, aidantID, usagerID, status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"autorisations": autorisations})
}

func (h *Handler) handleRevokeAutorisation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	aidantID, err := uuid.Parse(middleware.GetAidantID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	autorisationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid autorisation id"))
		return
	}
	autorisation, err := h.mandates.RevokeAutorisation(ctx, aidantID, autorisationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, autorisation)
}
