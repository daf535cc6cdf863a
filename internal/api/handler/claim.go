package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vanishdb/vanishdb/internal/api/middleware"
	"github.com/vanishdb/vanishdb/internal/api/response"
	"github.com/vanishdb/vanishdb/internal/claim"
	"github.com/vanishdb/vanishdb/internal/oauthflow"
	"github.com/vanishdb/vanishdb/internal/region"
	"github.com/vanishdb/vanishdb/internal/store"
)

// ClaimHandler handles the claim lifecycle endpoints: initiation, the OAuth
// handshake legs, and the migration worker's completion callback.
type ClaimHandler struct {
	orch         *claim.Orchestrator
	flow         *oauthflow.Flow
	publicOrigin string
}

// NewClaimHandler creates a new ClaimHandler.
func NewClaimHandler(orch *claim.Orchestrator, flow *oauthflow.Flow, publicOrigin string) *ClaimHandler {
	return &ClaimHandler{
		orch:         orch,
		flow:         flow,
		publicOrigin: publicOrigin,
	}
}

// Initiate handles GET /databases/{id}/claim. The access-token query
// parameter must carry a bearer token from the OAuth handshake; on success
// the migration job is dispatched and the user is sent to the status page.
func (h *ClaimHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", requestID)
		return
	}

	accessToken := r.URL.Query().Get("access-token")
	if accessToken == "" {
		response.Err(w, http.StatusBadRequest, "TOKEN_REQUIRED", "Access token is required", requestID)
		return
	}

	lat, lon := region.CoordsFromRequest(r)
	_, err = h.orch.InitiateClaim(r.Context(), id, accessToken, lat, lon)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Database not found", requestID)
		case errors.Is(err, claim.ErrUpstreamCreate):
			slog.Error("claim initiation failed", "id", id, "error", err)
			response.Err(w, http.StatusBadGateway, "UPSTREAM_CREATE_FAILED", "Failed to create a project in your account", requestID)
		case errors.Is(err, claim.ErrUpstreamDispatch):
			slog.Error("claim initiation failed", "id", id, "error", err)
			response.Err(w, http.StatusBadGateway, "UPSTREAM_DISPATCH_FAILED", "Failed to start the data migration", requestID)
		default:
			slog.Error("claim initiation failed", "id", id, "error", err)
			response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to claim database", requestID)
		}
		return
	}

	http.Redirect(w, r, h.publicOrigin+"/databases/"+id.String(), http.StatusFound)
}

// Start handles POST /databases/{id}/claim: it opens the OAuth handshake by
// redirecting to the identity provider with a PKCE challenge. The verifier
// travels in a short-lived cookie scoped to the callback path.
func (h *ClaimHandler) Start(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", requestID)
		return
	}

	redirectTo := h.publicOrigin + "/databases/" + id.String() + "/claim"
	auth := h.flow.Begin(redirectTo)

	http.SetCookie(w, &http.Cookie{
		Name:     oauthflow.VerifierCookieName,
		Value:    auth.Verifier,
		Path:     oauthflow.CallbackPath,
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   strings.HasPrefix(h.publicOrigin, "https://"),
	})
	http.Redirect(w, r, auth.URL, http.StatusFound)
}

// OAuthCallback handles GET /oauth/callback: the identity provider's
// return leg. It exchanges the authorization code plus the cookie-persisted
// verifier for a bearer token and resumes at the URL encoded in the state.
func (h *ClaimHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	redirectTo, err := oauthflow.DecodeState(r.URL.Query().Get("state"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_STATE", "State parameter did not round-trip", requestID)
		return
	}

	cookie, err := r.Cookie(oauthflow.VerifierCookieName)
	if err != nil || cookie.Value == "" {
		response.Err(w, http.StatusBadRequest, "INVALID_STATE", "PKCE verifier cookie is missing", requestID)
		return
	}

	// Single-use: expire the verifier cookie before the exchange.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthflow.VerifierCookieName,
		Value:    "",
		Path:     oauthflow.CallbackPath,
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	token, err := h.flow.Exchange(r.Context(), r.URL.Query().Get("code"), cookie.Value)
	if err != nil {
		slog.Warn("token exchange failed", "error", err)
		response.Err(w, http.StatusBadRequest, "TOKEN_EXCHANGE_FAILED", "Identity provider rejected the code exchange", requestID)
		return
	}

	target, err := appendAccessToken(redirectTo, token)
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_STATE", "State parameter did not round-trip", requestID)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// migrationResult is the body the migration worker POSTs on completion.
type migrationResult struct {
	Output string `json:"output"`
	Failed bool   `json:"failed"`
}

// MigrationCallback handles POST /databases/{id}/claim-callback. The
// worker is authenticated implicitly by possession of the unguessable URL.
// On success the destination descriptors ride on the URL itself, since the
// body only attests to completion. Safe to receive more than once.
func (h *ClaimHandler) MigrationCallback(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", requestID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var body migrationResult
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}

	result := claim.Result{
		Failed: body.Failed,
		Output: body.Output,
	}
	if !body.Failed {
		result.DestURL = r.URL.Query().Get("dest-url")
		result.DestProjectID = r.URL.Query().Get("claimed-project")
		if result.DestURL == "" || result.DestProjectID == "" {
			response.Err(w, http.StatusBadRequest, "MISSING_PARAM", "dest-url and claimed-project are required on a success callback", requestID)
			return
		}
	}

	if err := h.orch.CompleteClaim(r.Context(), id, result); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Database not found", requestID)
			return
		}
		slog.Error("failed to apply claim callback", "id", id, "error", err)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to apply claim result", requestID)
		return
	}

	response.NoContent(w)
}

// DirectCallback handles GET /databases/{id}/claim-callback: the return
// leg of the hosted claim link, where the provider transferred the source
// project itself. Redirects to the claimed project's console page.
func (h *ClaimHandler) DirectCallback(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", requestID)
		return
	}

	rec, err := h.orch.CompleteDirectClaim(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Database not found", requestID)
		case errors.Is(err, store.ErrConflict):
			response.Err(w, http.StatusConflict, "CONFLICT", "A transfer is already in progress", requestID)
		default:
			slog.Error("failed to finalize direct claim", "id", id, "error", err)
			response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to finalize claim", requestID)
		}
		return
	}

	http.Redirect(w, r, h.orch.ConsoleProjectURL(rec.ProjectID), http.StatusMovedPermanently)
}

func appendAccessToken(redirectTo, token string) (string, error) {
	u, err := url.Parse(redirectTo)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("access-token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
