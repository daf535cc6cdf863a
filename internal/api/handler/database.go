package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vanishdb/vanishdb/internal/api/middleware"
	"github.com/vanishdb/vanishdb/internal/api/response"
	"github.com/vanishdb/vanishdb/internal/challenge"
	"github.com/vanishdb/vanishdb/internal/claim"
	"github.com/vanishdb/vanishdb/internal/region"
	"github.com/vanishdb/vanishdb/internal/store"
)

// createDatabaseRequest is the request body for POST /databases/{id}.
type createDatabaseRequest struct {
	Token string `json:"token"`
}

// databaseResponse is the API representation of a database record.
type databaseResponse struct {
	ID                 string  `json:"id"`
	ConnectionString   string  `json:"connectionString"`
	ProjectID          string  `json:"projectId"`
	ClaimedProjectID   *string `json:"claimedProjectId,omitempty"`
	CreationDurationMs int     `json:"creationDurationMs"`
	CreatedAt          string  `json:"createdAt"`
	ClaimStatus        string  `json:"claimStatus"`
	ClaimURL           *string `json:"claimUrl,omitempty"`
	ClaimError         *string `json:"claimError,omitempty"`
}

// toDatabaseResponse converts a record to its API response representation.
func toDatabaseResponse(rec *store.Record) databaseResponse {
	return databaseResponse{
		ID:                 rec.ID.String(),
		ConnectionString:   rec.ConnectionString,
		ProjectID:          rec.ProjectID,
		ClaimedProjectID:   rec.ClaimedProjectID,
		CreationDurationMs: rec.CreationDurationMs,
		CreatedAt:          rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		ClaimStatus:        string(rec.ClaimStatus),
		ClaimURL:           rec.ClaimURL,
		ClaimError:         rec.ClaimError,
	}
}

// DatabaseHandler handles database provisioning and status endpoints.
type DatabaseHandler struct {
	repo     store.Repository
	orch     *claim.Orchestrator
	verifier *challenge.Verifier
}

// NewDatabaseHandler creates a new DatabaseHandler.
func NewDatabaseHandler(repo store.Repository, orch *claim.Orchestrator, verifier *challenge.Verifier) *DatabaseHandler {
	return &DatabaseHandler{
		repo:     repo,
		orch:     orch,
		verifier: verifier,
	}
}

// Create handles POST /databases/{id}: verifies the challenge token and
// provisions the ephemeral database. Idempotent per id: a repeated call
// returns the existing record.
func (h *DatabaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", requestID)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req createDatabaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}

	if req.Token == "" && h.verifier.Enabled() {
		response.Err(w, http.StatusBadRequest, "TOKEN_REQUIRED", "Challenge token is required", requestID)
		return
	}

	ok, err := h.verifier.Verify(r.Context(), req.Token, remoteIP(r))
	if err != nil {
		slog.Error("failed to verify challenge token", "error", err)
		response.Err(w, http.StatusBadGateway, "CHALLENGE_UNAVAILABLE", "Could not verify challenge token", requestID)
		return
	}
	if !ok {
		response.Err(w, http.StatusBadRequest, "INVALID_TOKEN", "Challenge token rejected", requestID)
		return
	}

	lat, lon := region.CoordsFromRequest(r)
	rec, created, err := h.orch.Provision(r.Context(), id, lat, lon)
	if err != nil {
		if errors.Is(err, claim.ErrUpstreamCreate) {
			slog.Error("failed to provision database", "id", id, "error", err)
			response.Err(w, http.StatusBadGateway, "UPSTREAM_CREATE_FAILED", "Failed to create database", requestID)
			return
		}
		slog.Error("failed to create database record", "id", id, "error", err)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create database", requestID)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(w, status, toDatabaseResponse(rec), requestID)
}

// GetByID handles GET /databases/{id}: the status surface, including the
// last claim error so a retried claim is self-explanatory.
func (h *DatabaseHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", requestID)
		return
	}

	rec, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Database not found", requestID)
			return
		}
		slog.Error("failed to get database", "error", err, "id", id)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get database", requestID)
		return
	}

	response.Success(w, http.StatusOK, toDatabaseResponse(rec), requestID)
}

func remoteIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
