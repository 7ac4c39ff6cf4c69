package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"skyforge/internal/domain"
	"skyforge/internal/infra"
	"skyforge/internal/sqlinline"
)

// LeaseExpiredMessage is appended to jobs failed because their run lease lapsed.
const LeaseExpiredMessage = "Generation lease expired"

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new pending job after failing the requester's lapsed runs.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QExpireRequesterLeases, job.RequesterID, LeaseExpiredMessage, job.CreatedAt); err != nil {
		return fmt.Errorf("expire stale runs: %w", err)
	}
	request, err := marshalNullable(job.Request)
	if err != nil {
		return err
	}
	errs, err := json.Marshal(nonNilErrors(job.Errors))
	if err != nil {
		return err
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.RequesterID,
		job.Prompt,
		string(job.Status),
		request,
		errs,
		meta,
		job.LeaseToken,
		job.LeaseExpiresAt,
		job.CreatedAt,
	)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return domain.ErrRunInProgress
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Update applies the patch while the job is still pending.
func (r *JobRepositoryPG) Update(ctx context.Context, jobID string, patch domain.JobPatch) (*domain.Job, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	imageResult, err := marshalNullable(patch.ImageResult)
	if err != nil {
		return nil, err
	}
	meshResult, err := marshalNullable(patch.MeshResult)
	if err != nil {
		return nil, err
	}
	var appendErrs []byte
	if len(patch.AppendErrors) > 0 {
		if appendErrs, err = json.Marshal(patch.AppendErrors); err != nil {
			return nil, err
		}
	}
	meta, err := marshalNullable(patch.Metadata)
	if err != nil {
		return nil, err
	}
	row := r.sql.QueryRow(ctx, sqlinline.QUpdatePendingJob,
		jobID,
		status,
		imageResult,
		meshResult,
		patch.ImageURL,
		patch.MeshURL,
		appendErrs,
		meta,
		patch.ReleaseLease,
		time.Now().UTC(),
	)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !infra.IsNoRows(err) {
		return nil, err
	}
	if _, getErr := r.Get(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrJobFinalized
}

// RenewLease extends the lease held by token on a pending job.
func (r *JobRepositoryPG) RenewLease(ctx context.Context, jobID, token string, until time.Time) error {
	var id string
	err := r.sql.QueryRow(ctx, sqlinline.QRenewJobLease, jobID, token, until.UTC(), time.Now().UTC()).Scan(&id)
	if err == nil {
		return nil
	}
	if !infra.IsNoRows(err) {
		return fmt.Errorf("renew lease: %w", err)
	}
	if _, getErr := r.Get(ctx, jobID); getErr != nil {
		return getErr
	}
	return domain.ErrJobFinalized
}

// ExpireLeases fails pending jobs whose lease lapsed before now.
func (r *JobRepositoryPG) ExpireLeases(ctx context.Context, now time.Time, reason string) ([]string, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QExpireLeases, now, reason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                              domain.Job
		status                           string
		request, imageResult, meshResult []byte
		errs, meta                       []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.RequesterID,
		&job.Prompt,
		&status,
		&request,
		&imageResult,
		&meshResult,
		&job.ImageURL,
		&job.MeshURL,
		&errs,
		&meta,
		&job.LeaseToken,
		&job.LeaseExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if err := decodeJobJSON(&job, request, imageResult, meshResult, errs, meta); err != nil {
		return nil, err
	}
	return &job, nil
}

func decodeJobJSON(job *domain.Job, request, imageResult, meshResult, errs, meta []byte) error {
	if len(request) > 0 {
		var req domain.GenerationRequest
		if err := json.Unmarshal(request, &req); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}
		job.Request = &req
	}
	if len(imageResult) > 0 {
		var img domain.ImageResult
		if err := json.Unmarshal(imageResult, &img); err != nil {
			return fmt.Errorf("decode image result: %w", err)
		}
		job.ImageResult = &img
	}
	if len(meshResult) > 0 {
		var mesh domain.MeshResult
		if err := json.Unmarshal(meshResult, &mesh); err != nil {
			return fmt.Errorf("decode mesh result: %w", err)
		}
		job.MeshResult = &mesh
	}
	job.Errors = []string{}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &job.Errors); err != nil {
			return fmt.Errorf("decode errors: %w", err)
		}
		if job.Errors == nil {
			job.Errors = []string{}
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	return nil
}

// marshalNullable encodes v, mapping nil pointers to SQL NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nonNilErrors(errs []string) []string {
	if errs == nil {
		return []string{}
	}
	return errs
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
