// Package handler exposes the broker endpoints the relying party and the
// aidant front end talk to: authorize, choose-usager, token, and user info.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"aidantsconnect/internal/broker"
	identitymodels "aidantsconnect/internal/identity/models"
	mandatemodels "aidantsconnect/internal/mandate/models"
	"aidantsconnect/internal/platform/middleware"
	dErrors "aidantsconnect/pkg/domain-errors"
	"aidantsconnect/pkg/platform/httputil"
)

// tokenEndpointNotice is served on GET to the token endpoint, which only
// accepts POST. Kept as a plain text page for the humans who end up there.
const tokenEndpointNotice = "You did a GET on a POST only route"

// UsagerLister names the usagers an aidant may vouch for.
type UsagerLister interface {
	UsagersVisibleBy(ctx context.Context, aidantID uuid.UUID) ([]*identitymodels.Usager, error)
}

type Handler struct {
	broker   *broker.Service
	usagers  UsagerLister
	sessions middleware.SessionValidator
	logger   *slog.Logger
}

func New(brokerSvc *broker.Service, usagers UsagerLister, sessions middleware.SessionValidator, logger *slog.Logger) *Handler {
	return &Handler{broker: brokerSvc, usagers: usagers, sessions: sessions, logger: logger}
}

// Register mounts the broker routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/authorize", h.handleAuthorize)
	r.Post("/authorize", h.handleAuthorize)
	r.Get("/token", h.handleTokenGet)
	r.Post("/token", h.handleToken)
	r.Get("/userinfo", h.handleUserInfo)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAidant(h.sessions, h.logger))
		r.Post("/choose-usager", h.handleChooseUsager)
	})
}

type authorizeResponse struct {
	ConnectionID string    `json:"connection_id"`
	State        string    `json:"state"`
	ExpiresOn    time.Time `json:"expires_on"`

	// Usagers lists the profiles the authenticated aidant may choose from.
	// Absent when the request carries no aidant session.
	Usagers []map[string]string `json:"usagers,omitempty"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid form"))
		return
	}
	state := r.Form.Get("state")
	nonce := r.Form.Get("nonce")

	conn, err := h.broker.Authorize(r.Context(), state, nonce)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := authorizeResponse{
		ConnectionID: conn.ID.String(),
		State:        conn.State,
		ExpiresOn:    conn.ExpiresOn,
	}
	if usagers := h.candidateUsagers(r); len(usagers) > 0 {
		resp.Usagers = usagers
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// candidateUsagers resolves the aidant session, when one is present, to the
// usager profiles that aidant may vouch for. An absent or invalid session is
// not an error here; the relying party's redirect arrives unauthenticated.
func (h *Handler) candidateUsagers(r *http.Request) []map[string]string {
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		return nil
	}
	claims, err := h.sessions.ValidateSessionToken(token)
	if err != nil {
		return nil
	}
	aidantID, err := uuid.Parse(claims.AidantID)
	if err != nil {
		return nil
	}
	usagers, err := h.usagers.UsagersVisibleBy(r.Context(), aidantID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to list candidate usagers", "error", err)
		return nil
	}
	profiles := make([]map[string]string, 0, len(usagers))
	for _, u := range usagers {
		profiles = append(profiles, u.Profile())
	}
	return profiles
}

type chooseUsagerRequest struct {
	State    string `json:"state"`
	Demarche string `json:"demarche"`
	Duree    string `json:"duree"`
	IsRemote bool   `json:"is_remote"`
	Usager   struct {
		Sub          string `json:"sub"`
		GivenName    string `json:"given_name"`
		FamilyName   string `json:"family_name"`
		Gender       string `json:"gender"`
		Birthdate    string `json:"birthdate"`
		Birthplace   string `json:"birthplace"`
		Birthcountry string `json:"birthcountry"`
		Email        string `json:"email"`
	} `json:"usager"`
}

func (h *Handler) handleChooseUsager(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	aidantID, err := uuid.Parse(middleware.GetAidantID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	var req chooseUsagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	birthdate, err := time.Parse("2006-01-02", req.Usager.Birthdate)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid birthdate, expected YYYY-MM-DD"))
		return
	}
	candidate, err := identitymodels.NewUsager(uuid.New(), req.Usager.Sub, req.Usager.GivenName,
		req.Usager.FamilyName, req.Usager.Gender, birthdate, req.Usager.Birthplace,
		req.Usager.Birthcountry, req.Usager.Email, time.Now())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	redirect, err := h.broker.ChooseUsager(ctx, aidantID, req.State, candidate, req.Demarche,
		mandatemodels.DureeKeyword(req.Duree), req.IsRemote)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handler) handleTokenGet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(tokenEndpointNotice))
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid form"))
		return
	}
	resp, err := h.broker.ExchangeToken(r.Context(), broker.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	profile, err := h.broker.UserInfo(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}
