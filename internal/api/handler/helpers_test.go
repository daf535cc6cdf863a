package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vanishdb/vanishdb/internal/api"
	"github.com/vanishdb/vanishdb/internal/challenge"
	"github.com/vanishdb/vanishdb/internal/claim"
	"github.com/vanishdb/vanishdb/internal/migration"
	"github.com/vanishdb/vanishdb/internal/oauthflow"
	"github.com/vanishdb/vanishdb/internal/provision"
	"github.com/vanishdb/vanishdb/internal/region"
	"github.com/vanishdb/vanishdb/internal/store"
	"github.com/vanishdb/vanishdb/internal/sweeper"
)

const (
	publicOrigin = "https://vanish.example.com"
	consoleURL   = "https://console.example.com"
)

// mockRepo implements store.Repository with overridable functions.
type mockRepo struct {
	createFn        func(ctx context.Context, rec *store.Record) error
	getByIDFn       func(ctx context.Context, id uuid.UUID) (*store.Record, error)
	updateStatusFn  func(ctx context.Context, id uuid.UUID, from, to store.ClaimStatus, fields store.StatusFields) (*store.Record, error)
	listFn          func(ctx context.Context, filter store.ListFilter) (*store.ListResult, error)
	listExpiredFn   func(ctx context.Context, olderThan time.Time) ([]store.Record, error)
	deleteExpiredFn func(ctx context.Context, olderThan time.Time) (int64, error)
}

func (m *mockRepo) Create(ctx context.Context, rec *store.Record) error {
	if m.createFn != nil {
		return m.createFn(ctx, rec)
	}
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*store.Record, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockRepo) UpdateClaimStatus(ctx context.Context, id uuid.UUID, from, to store.ClaimStatus, fields store.StatusFields) (*store.Record, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, from, to, fields)
	}
	return nil, store.ErrNotFound
}

func (m *mockRepo) List(ctx context.Context, filter store.ListFilter) (*store.ListResult, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return &store.ListResult{Records: []store.Record{}, Page: 1, Limit: 20}, nil
}

func (m *mockRepo) ListExpiredUnclaimed(ctx context.Context, olderThan time.Time) ([]store.Record, error) {
	if m.listExpiredFn != nil {
		return m.listExpiredFn(ctx, olderThan)
	}
	return nil, nil
}

func (m *mockRepo) DeleteExpiredUnclaimed(ctx context.Context, olderThan time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, olderThan)
	}
	return 0, nil
}

type pingOK struct{}

func (pingOK) Ping(ctx context.Context) error { return nil }

// newProvisionServer fakes the provisioning API with a fixed project.
func newProvisionServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /projects", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"project": map[string]any{"id": "proj-1"},
			"connection_uris": []map[string]any{
				{"connection_uri": "postgres://dest/db"},
			},
		})
	})
	mux.HandleFunc("DELETE /projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("POST /projects/{id}/transfer_requests", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "tr-1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newWorkerServer fakes the migration worker's invoke endpoint.
func newWorkerServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type routerOpts struct {
	flow         *oauthflow.Flow
	verifier     *challenge.Verifier
	sweeper      *sweeper.Sweeper
	adminKeyHash string
	provisionURL string
	workerURL    string
}

func newTestRouter(t *testing.T, repo store.Repository, opts routerOpts) http.Handler {
	t.Helper()

	if opts.verifier == nil {
		opts.verifier = challenge.NewVerifier("", "")
	}
	if opts.provisionURL == "" {
		opts.provisionURL = newProvisionServer(t).URL
	}
	if opts.workerURL == "" {
		opts.workerURL = newWorkerServer(t, http.StatusAccepted).URL
	}

	orch := claim.NewOrchestrator(
		repo,
		provision.NewClient(opts.provisionURL, "system-key"),
		migration.NewDispatcher(opts.workerURL),
		region.DefaultCatalog,
		publicOrigin,
		consoleURL,
	)

	return api.NewRouter(api.RouterDeps{
		DBPinger:     pingOK{},
		Repo:         repo,
		Orchestrator: orch,
		Flow:         opts.flow,
		Verifier:     opts.verifier,
		Sweeper:      opts.sweeper,
		PublicOrigin: publicOrigin,
		Version:      "test",
		AdminKeyHash: opts.adminKeyHash,
	})
}

// envelope mirrors the response wrapper for decoding in assertions. Data is
// decoded lazily because list endpoints carry an array instead of an object.
type envelope struct {
	Data    map[string]any  `json:"-"`
	RawData json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta map[string]any `json:"meta"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	if len(env.RawData) > 0 && env.RawData[0] == '{' {
		require.NoError(t, json.Unmarshal(env.RawData, &env.Data))
	}
	return env
}

func unclaimedRecord(id uuid.UUID) *store.Record {
	return &store.Record{
		ID:               id,
		ConnectionString: "postgres://src/db",
		ProjectID:        "proj-src",
		CreatedAt:        time.Now().UTC(),
		ClaimStatus:      store.ClaimStatusUnclaimed,
	}
}
