package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"skyforge/internal/domain"
)

// JobRepositoryMemory keeps jobs in process memory. It mirrors the Postgres
// store: one pending job per requester and updates only on pending jobs.
type JobRepositoryMemory struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

func NewMemoryJobRepository() *JobRepositoryMemory {
	return &JobRepositoryMemory{
		jobs: make(map[string]*domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *JobRepositoryMemory) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked(job.CreatedAt, LeaseExpiredMessage, func(j *domain.Job) bool {
		return j.RequesterID == job.RequesterID
	})
	for _, existing := range r.jobs {
		if existing.RequesterID == job.RequesterID && existing.Status == domain.JobStatusPending {
			return domain.ErrRunInProgress
		}
	}
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrRunInProgress
	}
	stored := job.Clone()
	if stored.Errors == nil {
		stored.Errors = []string{}
	}
	r.jobs[job.ID] = stored
	return nil
}

func (r *JobRepositoryMemory) Get(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *JobRepositoryMemory) Update(_ context.Context, jobID string, patch domain.JobPatch) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status != domain.JobStatusPending {
		return nil, domain.ErrJobFinalized
	}
	job.Apply(clonePatch(patch), r.now())
	return job.Clone(), nil
}

func (r *JobRepositoryMemory) RenewLease(_ context.Context, jobID, token string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusPending || token == "" || job.LeaseToken != token {
		return domain.ErrJobFinalized
	}
	until = until.UTC()
	job.LeaseExpiresAt = &until
	return nil
}

func (r *JobRepositoryMemory) ExpireLeases(_ context.Context, now time.Time, reason string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.expireLocked(now, reason, func(*domain.Job) bool { return true })
	sort.Strings(ids)
	return ids, nil
}

func (r *JobRepositoryMemory) expireLocked(now time.Time, reason string, match func(*domain.Job) bool) []string {
	var ids []string
	failed := domain.JobStatusFailed
	for id, job := range r.jobs {
		if job.Status != domain.JobStatusPending || job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(now) {
			continue
		}
		if !match(job) {
			continue
		}
		job.Apply(domain.JobPatch{
			Status:       &failed,
			AppendErrors: []string{reason},
			ReleaseLease: true,
		}, now)
		ids = append(ids, id)
	}
	return ids
}

// clonePatch copies result pointers so later caller mutations do not leak in.
func clonePatch(p domain.JobPatch) domain.JobPatch {
	if p.ImageResult != nil {
		img := *p.ImageResult
		p.ImageResult = &img
	}
	if p.MeshResult != nil {
		holder := &domain.Job{MeshResult: p.MeshResult}
		p.MeshResult = holder.Clone().MeshResult
	}
	if p.Metadata != nil {
		meta := *p.Metadata
		p.Metadata = &meta
	}
	p.AppendErrors = append([]string(nil), p.AppendErrors...)
	return p
}

var _ domain.JobRepository = (*JobRepositoryMemory)(nil)
