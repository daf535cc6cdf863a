package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanishdb/vanishdb/internal/store"
	"github.com/vanishdb/vanishdb/internal/sweeper"
)

type mockRepo struct {
	listExpiredFn   func(ctx context.Context, olderThan time.Time) ([]store.Record, error)
	deleteExpiredFn func(ctx context.Context, olderThan time.Time) (int64, error)

	mu            sync.Mutex
	deleteCalls   int
	lastOlderThan time.Time
}

func (m *mockRepo) Create(ctx context.Context, rec *store.Record) error { return nil }

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*store.Record, error) {
	return nil, store.ErrNotFound
}

func (m *mockRepo) UpdateClaimStatus(ctx context.Context, id uuid.UUID, from, to store.ClaimStatus, fields store.StatusFields) (*store.Record, error) {
	return nil, store.ErrNotFound
}

func (m *mockRepo) List(ctx context.Context, filter store.ListFilter) (*store.ListResult, error) {
	return &store.ListResult{}, nil
}

func (m *mockRepo) ListExpiredUnclaimed(ctx context.Context, olderThan time.Time) ([]store.Record, error) {
	m.mu.Lock()
	m.lastOlderThan = olderThan
	m.mu.Unlock()
	if m.listExpiredFn != nil {
		return m.listExpiredFn(ctx, olderThan)
	}
	return nil, nil
}

func (m *mockRepo) DeleteExpiredUnclaimed(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	m.deleteCalls++
	m.mu.Unlock()
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, olderThan)
	}
	return 0, nil
}

type mockDeleter struct {
	mu       sync.Mutex
	deleted  []string
	failFor  map[string]bool
	inFlight int
	maxSeen  int
}

func (m *mockDeleter) DeleteProject(ctx context.Context, projectID string) error {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	m.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	if m.failFor[projectID] {
		return errors.New("destroy failed")
	}
	m.deleted = append(m.deleted, projectID)
	return nil
}

func expiredRecord(projectID string) store.Record {
	return store.Record{
		ID:               uuid.New(),
		ConnectionString: "postgres://src/db",
		ProjectID:        projectID,
		CreatedAt:        time.Now().UTC().Add(-2 * time.Hour),
		ClaimStatus:      store.ClaimStatusUnclaimed,
	}
}

func TestRunOnce_DestroysAndDeletes(t *testing.T) {
	records := []store.Record{expiredRecord("p1"), expiredRecord("p2"), expiredRecord("p3")}
	repo := &mockRepo{
		listExpiredFn: func(_ context.Context, _ time.Time) ([]store.Record, error) {
			return records, nil
		},
	}
	deleter := &mockDeleter{}

	s := sweeper.New(repo, deleter, time.Hour, time.Minute, 10)
	s.RunOnce(context.Background())

	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, deleter.deleted)
	assert.Equal(t, 1, repo.deleteCalls, "records are removed in one bulk delete")
	assert.WithinDuration(t, time.Now().UTC().Add(-time.Hour), repo.lastOlderThan, 5*time.Second)
}

func TestRunOnce_DestroyFailureDoesNotAbortBatch(t *testing.T) {
	records := []store.Record{expiredRecord("p1"), expiredRecord("p2"), expiredRecord("p3")}
	repo := &mockRepo{
		listExpiredFn: func(_ context.Context, _ time.Time) ([]store.Record, error) {
			return records, nil
		},
	}
	deleter := &mockDeleter{failFor: map[string]bool{"p2": true}}

	s := sweeper.New(repo, deleter, time.Hour, time.Minute, 10)
	s.RunOnce(context.Background())

	assert.ElementsMatch(t, []string{"p1", "p3"}, deleter.deleted)
	assert.Equal(t, 1, repo.deleteCalls, "records are deleted even when a destroy fails")
}

func TestRunOnce_NothingExpired_NoDelete(t *testing.T) {
	repo := &mockRepo{}
	deleter := &mockDeleter{}

	s := sweeper.New(repo, deleter, time.Hour, time.Minute, 10)
	s.RunOnce(context.Background())

	assert.Empty(t, deleter.deleted)
	assert.Equal(t, 0, repo.deleteCalls)
}

func TestRunOnce_BoundedConcurrency(t *testing.T) {
	var records []store.Record
	for i := 0; i < 20; i++ {
		records = append(records, expiredRecord(uuid.NewString()))
	}
	repo := &mockRepo{
		listExpiredFn: func(_ context.Context, _ time.Time) ([]store.Record, error) {
			return records, nil
		},
	}
	deleter := &mockDeleter{}

	s := sweeper.New(repo, deleter, time.Hour, time.Minute, 4)
	s.RunOnce(context.Background())

	require.Len(t, deleter.deleted, 20)
	assert.LessOrEqual(t, deleter.maxSeen, 4, "destroy fan-out must respect the concurrency cap")
}

func TestRunOnce_ListFailure_NoDestroys(t *testing.T) {
	repo := &mockRepo{
		listExpiredFn: func(_ context.Context, _ time.Time) ([]store.Record, error) {
			return nil, errors.New("db down")
		},
	}
	deleter := &mockDeleter{}

	s := sweeper.New(repo, deleter, time.Hour, time.Minute, 10)
	s.RunOnce(context.Background())

	assert.Empty(t, deleter.deleted)
	assert.Equal(t, 0, repo.deleteCalls)
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	repo := &mockRepo{}
	s := sweeper.New(repo, &mockDeleter{}, time.Hour, 10*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
