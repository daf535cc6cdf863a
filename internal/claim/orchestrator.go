package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/vanishdb/vanishdb/internal/migration"
	"github.com/vanishdb/vanishdb/internal/provision"
	"github.com/vanishdb/vanishdb/internal/region"
	"github.com/vanishdb/vanishdb/internal/store"
)

// ErrUpstreamCreate is returned when the provisioning API fails to create a
// backing project (or returns no usable connection descriptor).
var ErrUpstreamCreate = errors.New("upstream project creation failed")

// ErrUpstreamDispatch is returned when the migration worker does not accept
// a dispatched job. The record is reverted to UNCLAIMED before this is
// surfaced, so the caller may retry.
var ErrUpstreamDispatch = errors.New("migration dispatch failed")

// Result is the terminal outcome reported by the migration worker for one
// claim attempt.
type Result struct {
	Failed        bool
	Output        string
	DestURL       string
	DestProjectID string
}

// Orchestrator drives the claim state machine:
//
//	UNCLAIMED -> CLAIMING -> CLAIMED
//	                      -> UNCLAIMED (failure, claim_error set)
//
// All transitions go through compare-and-swap updates on the record store,
// so concurrent claim attempts and the sweeper cannot corrupt a record.
type Orchestrator struct {
	repo        store.Repository
	provisioner *provision.Client
	dispatcher  *migration.Dispatcher
	regions     region.Catalog

	callbackOrigin string
	consoleURL     string
}

// NewOrchestrator creates an Orchestrator. callbackOrigin is the origin
// under which the migration worker can reach this service's callback
// endpoint; consoleURL is the provisioning system's console for post-claim
// redirects.
func NewOrchestrator(repo store.Repository, provisioner *provision.Client, dispatcher *migration.Dispatcher, regions region.Catalog, callbackOrigin, consoleURL string) *Orchestrator {
	return &Orchestrator{
		repo:           repo,
		provisioner:    provisioner,
		dispatcher:     dispatcher,
		regions:        regions,
		callbackOrigin: callbackOrigin,
		consoleURL:     consoleURL,
	}
}

// Provision creates the ephemeral source project for a record id and
// persists the record. It is idempotent per id: if the record already
// exists the stored one is returned and created is false.
func (o *Orchestrator) Provision(ctx context.Context, id uuid.UUID, lat, lon float64) (rec *store.Record, created bool, err error) {
	existing, err := o.repo.GetByID(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	regionID := o.regions.Closest(lat, lon)
	quota := provision.DefaultQuota

	before := time.Now()
	proj, err := o.provisioner.CreateProject(ctx, provision.CreateProjectParams{
		Name:      projectName(id),
		RegionID:  regionID,
		PgVersion: 16,
		Quota:     &quota,
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUpstreamCreate, err)
	}
	durationMs := int(time.Since(before).Milliseconds())

	// The hosted claim link is a convenience, not a requirement: the
	// authenticated transfer flow works without it.
	var claimURL *string
	if tr, trErr := o.provisioner.CreateTransferRequest(ctx, proj.ID); trErr != nil {
		slog.Warn("failed to create transfer request, record will have no claim URL",
			"id", id, "project", proj.ID, "error", trErr)
	} else {
		u := fmt.Sprintf("%s/app/claim?p=%s&tr=%s&ru=%s",
			o.consoleURL, proj.ID, tr.ID,
			url.QueryEscape(o.callbackOrigin+"/databases/"+id.String()+"/claim-callback"))
		claimURL = &u
	}

	rec = &store.Record{
		ID:                 id,
		ConnectionString:   proj.ConnectionURI,
		ProjectID:          proj.ID,
		CreationDurationMs: durationMs,
		ClaimURL:           claimURL,
	}

	if err := o.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// A concurrent request won the insert. Ours is surplus.
			o.discardProject(ctx, o.provisioner, proj.ID, id)
			existing, gerr := o.repo.GetByID(ctx, id)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	slog.Info("provisioned database", "id", id, "project", proj.ID, "region", regionID, "durationMs", durationMs)
	return rec, true, nil
}

// InitiateClaim starts the authenticated transfer of a record's database
// into the caller's own account. accessToken must be a bearer token
// obtained through the OAuth handshake. On success the record is CLAIMING
// and a migration job has been accepted; completion arrives later through
// CompleteClaim.
//
// A record already CLAIMED or CLAIMING is reported as-is without
// re-triggering provisioning.
func (o *Orchestrator) InitiateClaim(ctx context.Context, id uuid.UUID, accessToken string, lat, lon float64) (*store.Record, error) {
	rec, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec.ClaimStatus != store.ClaimStatusUnclaimed {
		return rec, nil
	}

	// Create the destination project in the caller's account before
	// touching the record: a failure here must leave no trace.
	userClient := o.provisioner.WithToken(accessToken)
	proj, err := userClient.CreateProject(ctx, provision.CreateProjectParams{
		Name:      projectName(id),
		RegionID:  o.regions.Closest(lat, lon),
		PgVersion: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamCreate, err)
	}

	claiming, err := o.repo.UpdateClaimStatus(ctx, id, store.ClaimStatusUnclaimed, store.ClaimStatusClaiming, store.StatusFields{})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another caller advanced the record first. Their migration
			// job owns the claim; our destination project is surplus and
			// must not stay attached to the record.
			o.discardProject(ctx, userClient, proj.ID, id)
			current, gerr := o.repo.GetByID(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			return current, nil
		}
		return nil, err
	}

	job := migration.Job{
		SrcURL:      rec.ConnectionString,
		DestURL:     proj.ConnectionURI,
		CallbackURL: o.callbackURL(id, proj),
	}
	if err := o.dispatcher.Dispatch(ctx, job); err != nil {
		detail := "failed to dispatch migration job"
		if _, rerr := o.repo.UpdateClaimStatus(ctx, id, store.ClaimStatusClaiming, store.ClaimStatusUnclaimed, store.StatusFields{ClaimError: &detail}); rerr != nil {
			slog.Error("failed to revert record after dispatch failure", "id", id, "error", rerr)
		}
		o.discardProject(ctx, userClient, proj.ID, id)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamDispatch, err)
	}

	slog.Info("claim initiated", "id", id, "destProject", proj.ID)
	return claiming, nil
}

// CompleteClaim applies the migration worker's terminal result. It is safe
// to call more than once per record: once the record has left CLAIMING,
// further deliveries are no-ops.
func (o *Orchestrator) CompleteClaim(ctx context.Context, id uuid.UUID, res Result) error {
	var err error
	if res.Failed {
		err = o.failClaim(ctx, id, res.Output)
	} else {
		err = o.finishClaim(ctx, id, res)
	}
	if errors.Is(err, store.ErrConflict) {
		// Duplicate delivery, or the record never entered CLAIMING.
		slog.Info("claim callback ignored, record not claiming", "id", id)
		return nil
	}
	return err
}

func (o *Orchestrator) failClaim(ctx context.Context, id uuid.UUID, detail string) error {
	// The source database is still the authoritative one: the connection
	// string is left untouched.
	_, err := o.repo.UpdateClaimStatus(ctx, id, store.ClaimStatusClaiming, store.ClaimStatusUnclaimed, store.StatusFields{
		ClaimError: &detail,
	})
	if err != nil {
		return err
	}
	slog.Warn("claim failed", "id", id, "detail", detail)
	return nil
}

func (o *Orchestrator) finishClaim(ctx context.Context, id uuid.UUID, res Result) error {
	_, err := o.repo.UpdateClaimStatus(ctx, id, store.ClaimStatusClaiming, store.ClaimStatusClaimed, store.StatusFields{
		ConnectionString: &res.DestURL,
		ClaimedProjectID: &res.DestProjectID,
		ClearClaimError:  true,
	})
	if err != nil {
		return err
	}
	slog.Info("claim completed", "id", id, "claimedProject", res.DestProjectID)
	return nil
}

// CompleteDirectClaim finalizes the hosted-link claim variant: the user
// accepted the transfer request on the provider's console, which transfers
// the source project itself, so the record keeps its connection string and
// the claimed project is the source project. Idempotent once CLAIMED.
func (o *Orchestrator) CompleteDirectClaim(ctx context.Context, id uuid.UUID) (*store.Record, error) {
	rec, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ClaimStatus == store.ClaimStatusClaimed {
		return rec, nil
	}

	updated, err := o.repo.UpdateClaimStatus(ctx, id, store.ClaimStatusUnclaimed, store.ClaimStatusClaimed, store.StatusFields{
		ClaimedProjectID: &rec.ProjectID,
		ClearClaimError:  true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			current, gerr := o.repo.GetByID(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			if current.ClaimStatus == store.ClaimStatusClaimed {
				return current, nil
			}
		}
		return nil, err
	}

	slog.Info("direct claim completed", "id", id, "project", rec.ProjectID)
	return updated, nil
}

// ConsoleProjectURL is where a user lands after a successful direct claim.
func (o *Orchestrator) ConsoleProjectURL(projectID string) string {
	return o.consoleURL + "/app/projects/" + url.PathEscape(projectID)
}

func (o *Orchestrator) callbackURL(id uuid.UUID, proj *provision.Project) string {
	return fmt.Sprintf("%s/databases/%s/claim-callback?dest-url=%s&claimed-project=%s",
		o.callbackOrigin, id, url.QueryEscape(proj.ConnectionURI), url.QueryEscape(proj.ID))
}

// discardProject best-effort deletes a project that lost a race and must
// not remain attached to the record. Failure leaves a stray project in the
// owning account; that is wasted cost, not corruption.
func (o *Orchestrator) discardProject(ctx context.Context, client *provision.Client, projectID string, id uuid.UUID) {
	if err := client.DeleteProject(ctx, projectID); err != nil {
		slog.Warn("failed to discard surplus project", "id", id, "project", projectID, "error", err)
	}
}

func projectName(id uuid.UUID) string {
	return "vanishdb-" + id.String()
}
