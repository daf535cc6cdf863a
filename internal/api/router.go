package api

import (
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/go-chi/chi/v5"

	"github.com/vanishdb/vanishdb/internal/api/handler"
	"github.com/vanishdb/vanishdb/internal/api/middleware"
	"github.com/vanishdb/vanishdb/internal/challenge"
	"github.com/vanishdb/vanishdb/internal/claim"
	"github.com/vanishdb/vanishdb/internal/oauthflow"
	"github.com/vanishdb/vanishdb/internal/store"
	"github.com/vanishdb/vanishdb/internal/sweeper"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	DBPinger     handler.DBPinger
	Repo         store.Repository
	Orchestrator *claim.Orchestrator
	Flow         *oauthflow.Flow
	Verifier     *challenge.Verifier
	Sweeper      *sweeper.Sweeper
	PublicOrigin string
	Version      string
	// AdminKeyHash enables the admin surface when non-empty.
	AdminKeyHash string
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)

	healthHandler := handler.NewHealthHandler(deps.DBPinger, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)

	dbHandler := handler.NewDatabaseHandler(deps.Repo, deps.Orchestrator, deps.Verifier)
	claimHandler := handler.NewClaimHandler(deps.Orchestrator, deps.Flow, deps.PublicOrigin)

	r.Route("/databases/{id}", func(r chi.Router) {
		r.Post("/", dbHandler.Create)
		r.Get("/", dbHandler.GetByID)
		r.Get("/claim-callback", claimHandler.DirectCallback)
		r.Post("/claim-callback", claimHandler.MigrationCallback)

		// The OAuth legs need a configured identity provider.
		if deps.Flow != nil {
			r.Get("/claim", claimHandler.Initiate)
			r.Post("/claim", claimHandler.Start)
		}
	})

	if deps.Flow != nil {
		r.Get(oauthflow.CallbackPath, claimHandler.OAuthCallback)
	}

	if deps.AdminKeyHash != "" {
		adminHandler := handler.NewAdminHandler(deps.Repo, deps.Sweeper)
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminAuth(deps.AdminKeyHash))
			r.Get("/databases", adminHandler.List)
			r.Post("/sweep", adminHandler.Sweep)
		})
	}

	return r
}
