package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vanishdb/vanishdb/internal/api"
	"github.com/vanishdb/vanishdb/internal/challenge"
	"github.com/vanishdb/vanishdb/internal/claim"
	"github.com/vanishdb/vanishdb/internal/config"
	"github.com/vanishdb/vanishdb/internal/migration"
	"github.com/vanishdb/vanishdb/internal/oauthflow"
	"github.com/vanishdb/vanishdb/internal/provision"
	"github.com/vanishdb/vanishdb/internal/region"
	"github.com/vanishdb/vanishdb/internal/store"
	"github.com/vanishdb/vanishdb/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := store.NewRepository(db.Pool())
	provisioner := provision.NewClient(cfg.ProvisionerAPIURL, cfg.ProvisionerAPIKey)
	dispatcher := migration.NewDispatcher(cfg.MigrationInvokeURL)
	verifier := challenge.NewVerifier(cfg.ChallengeVerifyURL, cfg.ChallengeSecretKey)

	regions := region.DefaultCatalog
	if cfg.RegionsPath != "" {
		regions, err = region.LoadCatalog(cfg.RegionsPath)
		if err != nil {
			slog.Error("failed to load region catalog", "path", cfg.RegionsPath, "error", err)
			os.Exit(1)
		}
	}

	callbackOrigin := cfg.PublicOrigin
	if cfg.WebhookOrigin != "" {
		callbackOrigin = cfg.WebhookOrigin
	}

	orch := claim.NewOrchestrator(repo, provisioner, dispatcher, regions, callbackOrigin, cfg.ConsoleURL)

	var flow *oauthflow.Flow
	if cfg.OAuthClientID != "" {
		discoverCtx, discoverCancel := context.WithTimeout(ctx, 15*time.Second)
		flow, err = oauthflow.Discover(discoverCtx, cfg.OAuthIssuerURL, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.PublicOrigin, cfg.OAuthScopes)
		discoverCancel()
		if err != nil {
			slog.Error("failed to discover identity provider", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("no OAuth client configured; authenticated claims are disabled")
	}

	sw := sweeper.New(repo, provisioner,
		time.Duration(cfg.TTLMinutes)*time.Minute,
		time.Duration(cfg.SweepIntervalMinutes)*time.Minute,
		cfg.SweepConcurrency,
	)
	go sw.Start(ctx)

	router := api.NewRouter(api.RouterDeps{
		DBPinger:     db,
		Repo:         repo,
		Orchestrator: orch,
		Flow:         flow,
		Verifier:     verifier,
		Sweeper:      sw,
		PublicOrigin: cfg.PublicOrigin,
		Version:      cfg.Version,
		AdminKeyHash: cfg.AdminAPIKeyHash,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting vanishdb server", "port", cfg.Port, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
