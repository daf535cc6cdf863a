package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanishdb/vanishdb/internal/api/handler"
	"github.com/vanishdb/vanishdb/internal/api/middleware"
)

type pingFail struct{}

func (pingFail) Ping(ctx context.Context) error { return errors.New("connection refused") }

func serveHealth(t *testing.T, db handler.DBPinger) envelope {
	t.Helper()
	h := middleware.RequestID(handler.NewHealthHandler(db, "1.2.3"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	return decodeEnvelope(t, rr)
}

func TestHealth_Healthy(t *testing.T) {
	env := serveHealth(t, pingOK{})

	assert.Equal(t, "healthy", env.Data["status"])
	assert.Equal(t, "1.2.3", env.Data["version"])
	db := env.Data["database"].(map[string]any)
	assert.Equal(t, true, db["connected"])
}

func TestHealth_Degraded(t *testing.T) {
	env := serveHealth(t, pingFail{})

	assert.Equal(t, "degraded", env.Data["status"])
	db := env.Data["database"].(map[string]any)
	assert.Equal(t, false, db["connected"])
}
