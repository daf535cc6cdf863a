package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vanishdb/vanishdb/internal/store"
	"github.com/vanishdb/vanishdb/internal/sweeper"
)

const adminKey = "admin-key"

func adminKeyHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

type noopDeleter struct{}

func (noopDeleter) DeleteProject(ctx context.Context, projectID string) error { return nil }

func newAdminRouter(t *testing.T, repo store.Repository) http.Handler {
	t.Helper()
	sw := sweeper.New(repo, noopDeleter{}, time.Hour, time.Hour, 1)
	return newTestRouter(t, repo, routerOpts{adminKeyHash: adminKeyHash(t), sweeper: sw})
}

func TestAdminAuth_MissingKey(t *testing.T) {
	router := newAdminRouter(t, &mockRepo{})

	req := httptest.NewRequest(http.MethodGet, "/admin/databases", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestAdminAuth_WrongKey(t *testing.T) {
	router := newAdminRouter(t, &mockRepo{})

	req := httptest.NewRequest(http.MethodGet, "/admin/databases", nil)
	req.Header.Set("X-API-Key", "wrong")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminList(t *testing.T) {
	var gotFilter store.ListFilter
	repo := &mockRepo{
		listFn: func(ctx context.Context, filter store.ListFilter) (*store.ListResult, error) {
			gotFilter = filter
			recs := []store.Record{*unclaimedRecord(uuid.New()), *unclaimedRecord(uuid.New())}
			return &store.ListResult{Records: recs, Total: 7, Page: filter.Page, Limit: filter.Limit}, nil
		},
	}
	router := newAdminRouter(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/admin/databases?status=UNCLAIMED&page=2&limit=5", nil)
	req.Header.Set("X-API-Key", adminKey)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	require.NotNil(t, gotFilter.Status)
	assert.Equal(t, store.ClaimStatusUnclaimed, *gotFilter.Status)
	assert.Equal(t, 2, gotFilter.Page)
	assert.Equal(t, 5, gotFilter.Limit)

	env := decodeEnvelope(t, rr)
	assert.Equal(t, float64(7), env.Meta["total"])
	assert.Equal(t, float64(2), env.Meta["page"])
	assert.Equal(t, float64(5), env.Meta["limit"])
}

func TestAdminList_InvalidStatus(t *testing.T) {
	router := newAdminRouter(t, &mockRepo{})

	req := httptest.NewRequest(http.MethodGet, "/admin/databases?status=PENDING", nil)
	req.Header.Set("X-API-Key", adminKey)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_PARAM", env.Error.Code)
}

func TestAdminList_InvalidPage(t *testing.T) {
	router := newAdminRouter(t, &mockRepo{})

	req := httptest.NewRequest(http.MethodGet, "/admin/databases?page=0", nil)
	req.Header.Set("X-API-Key", adminKey)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminSweep(t *testing.T) {
	router := newAdminRouter(t, &mockRepo{})

	req := httptest.NewRequest(http.MethodPost, "/admin/sweep", nil)
	req.Header.Set("X-API-Key", adminKey)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestAdminDisabledWithoutKeyHash(t *testing.T) {
	router := newTestRouter(t, &mockRepo{}, routerOpts{})

	req := httptest.NewRequest(http.MethodGet, "/admin/databases", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
