package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vanishdb/vanishdb/internal/store"
)

// ProjectDeleter destroys a backing project in the provisioning system.
// Satisfied by *provision.Client.
type ProjectDeleter interface {
	DeleteProject(ctx context.Context, projectID string) error
}

// Sweeper periodically reclaims expired, unclaimed databases: it destroys
// their backing projects with bounded concurrency and then bulk-deletes
// their records. CLAIMING and CLAIMED records are never touched, whatever
// their age: an in-flight transfer still carries live data.
type Sweeper struct {
	repo        store.Repository
	provisioner ProjectDeleter
	ttl         time.Duration
	interval    time.Duration
	concurrency int
}

// New creates a Sweeper. concurrency caps the number of parallel destroy
// calls per run.
func New(repo store.Repository, provisioner ProjectDeleter, ttl, interval time.Duration, concurrency int) *Sweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Sweeper{
		repo:        repo,
		provisioner: provisioner,
		ttl:         ttl,
		interval:    interval,
		concurrency: concurrency,
	}
}

// Start begins the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("sweeper started", "interval", s.interval.String(), "ttl", s.ttl.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. A destroy failure is logged and skipped,
// never aborts the batch; the records are bulk-deleted afterwards
// regardless, so a failed destroy leaves an orphaned backing project but
// never a stuck record.
func (s *Sweeper) RunOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ttl)

	expired, err := s.repo.ListExpiredUnclaimed(ctx, cutoff)
	if err != nil {
		slog.Error("sweeper: failed to list expired records", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	s.destroyAll(ctx, expired)

	deleted, err := s.repo.DeleteExpiredUnclaimed(ctx, cutoff)
	if err != nil {
		slog.Error("sweeper: failed to delete expired records", "error", err)
		return
	}

	slog.Info("sweep complete", "expired", len(expired), "deleted", deleted)
}

// destroyAll fans the destroy calls out over a fixed worker pool so a large
// batch cannot overwhelm the provisioning API.
func (s *Sweeper) destroyAll(ctx context.Context, records []store.Record) {
	workers := s.concurrency
	if workers > len(records) {
		workers = len(records)
	}

	jobs := make(chan store.Record)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				if err := s.provisioner.DeleteProject(ctx, rec.ProjectID); err != nil {
					slog.Warn("sweeper: failed to destroy project",
						"id", rec.ID, "project", rec.ProjectID, "error", err)
				}
			}
		}()
	}

	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()
}
