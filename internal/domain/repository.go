package domain

import (
	"context"
	"time"
)

// JobRepository persists Job records. The orchestrator is the single writer
// of a job while it is pending.
type JobRepository interface {
	// Create inserts a pending job. Stale pending jobs of the same requester
	// whose lease lapsed are failed first; a live lease yields ErrRunInProgress.
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	// Update applies the patch to a pending job and returns the stored result.
	// Jobs that already left pending yield ErrJobFinalized.
	Update(ctx context.Context, jobID string, patch JobPatch) (*Job, error)
	// RenewLease moves the lease of a pending job to until while token still
	// owns it. A job that left pending or changed owner yields ErrJobFinalized.
	RenewLease(ctx context.Context, jobID, token string, until time.Time) error
	// ExpireLeases fails every pending job whose lease lapsed before now.
	ExpireLeases(ctx context.Context, now time.Time, reason string) ([]string, error)
}
