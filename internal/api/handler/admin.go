package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vanishdb/vanishdb/internal/api/middleware"
	"github.com/vanishdb/vanishdb/internal/api/response"
	"github.com/vanishdb/vanishdb/internal/store"
	"github.com/vanishdb/vanishdb/internal/sweeper"
)

// AdminHandler handles the operator-facing surface.
type AdminHandler struct {
	repo    store.Repository
	sweeper *sweeper.Sweeper
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(repo store.Repository, sw *sweeper.Sweeper) *AdminHandler {
	return &AdminHandler{
		repo:    repo,
		sweeper: sw,
	}
}

// List handles GET /admin/databases.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	filter := store.ListFilter{
		Page:  1,
		Limit: 20,
	}

	if v := r.URL.Query().Get("status"); v != "" {
		status := store.ClaimStatus(v)
		if !status.Valid() {
			response.Err(w, http.StatusBadRequest, "INVALID_PARAM", "status must be UNCLAIMED, CLAIMING or CLAIMED", requestID)
			return
		}
		filter.Status = &status
	}
	if v := r.URL.Query().Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			response.Err(w, http.StatusBadRequest, "INVALID_PARAM", "page must be a positive integer", requestID)
			return
		}
		filter.Page = page
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			response.Err(w, http.StatusBadRequest, "INVALID_PARAM", "limit must be a positive integer", requestID)
			return
		}
		filter.Limit = limit
	}

	result, err := h.repo.List(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list databases", "error", err)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list databases", requestID)
		return
	}

	items := make([]databaseResponse, 0, len(result.Records))
	for i := range result.Records {
		items = append(items, toDatabaseResponse(&result.Records[i]))
	}

	response.SuccessList(w, http.StatusOK, items, result.Total, result.Page, result.Limit, requestID)
}

// Sweep handles POST /admin/sweep: kicks off a sweep outside the regular
// schedule and returns immediately.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	// The sweep outlives the request.
	go h.sweeper.RunOnce(context.WithoutCancel(r.Context()))

	response.Success(w, http.StatusAccepted, map[string]string{"status": "sweep started"}, requestID)
}
