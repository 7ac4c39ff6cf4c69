package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyforge/internal/adapter/repo"
	"skyforge/internal/domain"
	"skyforge/internal/infra"
)

func pendingJob(id, requester string, created, leaseUntil time.Time) *domain.Job {
	return &domain.Job{
		ID:             id,
		Prompt:         "a lighthouse",
		RequesterID:    requester,
		Status:         domain.JobStatusPending,
		CreatedAt:      created,
		UpdatedAt:      created,
		LeaseToken:     "lease-" + id,
		LeaseExpiresAt: &leaseUntil,
	}
}

func TestReapOnceFailsExpiredJobs(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	jobs := repo.NewMemoryJobRepository()
	require.NoError(t, jobs.Create(ctx, pendingJob("stale", "u1", now.Add(-time.Hour), now.Add(-time.Minute))))
	require.NoError(t, jobs.Create(ctx, pendingJob("running", "u2", now.Add(-time.Hour), now.Add(time.Hour))))

	r := &leaseReaper{jobs: jobs, logger: infra.NopLogger(), now: func() time.Time { return now }}
	ids, err := r.reapOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, ids)

	got, err := jobs.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, []string{repo.LeaseExpiredMessage}, got.Errors)

	got, err = jobs.Get(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)

	ids, err = r.reapOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &leaseReaper{jobs: repo.NewMemoryJobRepository(), logger: infra.NopLogger(), now: time.Now}

	done := make(chan struct{})
	go func() {
		r.run(ctx, time.Hour)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
