package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanishdb/vanishdb/internal/api/response"
)

func TestSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	response.Success(rr, http.StatusOK, map[string]string{"hello": "world"}, "req-1")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Nil(t, env.Error)
	assert.Equal(t, "req-1", env.Meta.RequestID)
	assert.NotEmpty(t, env.Meta.Timestamp)

	data := env.Data.(map[string]any)
	assert.Equal(t, "world", data["hello"])
}

func TestSuccessList(t *testing.T) {
	rr := httptest.NewRecorder()
	response.SuccessList(rr, http.StatusOK, []string{"a", "b"}, 42, 3, 2, "req-2")

	var env response.ListEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, 42, env.Meta.Total)
	assert.Equal(t, 3, env.Meta.Page)
	assert.Equal(t, 2, env.Meta.Limit)
	assert.Equal(t, "req-2", env.Meta.RequestID)
}

func TestErr(t *testing.T) {
	rr := httptest.NewRecorder()
	response.Err(rr, http.StatusNotFound, "NOT_FOUND", "Database not found", "req-3")

	assert.Equal(t, http.StatusNotFound, rr.Code)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.Equal(t, "Database not found", env.Error.Message)
	assert.Nil(t, env.Data)
}

func TestNewMeta_GeneratesRequestID(t *testing.T) {
	meta := response.NewMeta("")
	_, err := uuid.Parse(meta.RequestID)
	assert.NoError(t, err)
}

func TestNoContent(t *testing.T) {
	rr := httptest.NewRecorder()
	response.NoContent(rr)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.Bytes())
}
