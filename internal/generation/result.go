package generation

import (
	"errors"
	"fmt"

	"skyforge/internal/domain"
)

// CancelledMessage is recorded on jobs cancelled by their requester.
const CancelledMessage = "Generation cancelled by user"

// Result is the caller-facing outcome of a run.
type Result struct {
	Success     bool                `json:"success"`
	JobID       string              `json:"job_id"`
	Status      domain.JobStatus    `json:"status"`
	ImageResult *domain.ImageResult `json:"image_result,omitempty"`
	MeshResult  *domain.MeshResult  `json:"mesh_result,omitempty"`
	ImageURL    string              `json:"image_url,omitempty"`
	MeshURL     string              `json:"mesh_url,omitempty"`
	Errors      []string            `json:"errors"`
	Message     string              `json:"message"`
}

// ResultFromJob renders a stored job as a Result.
func ResultFromJob(job *domain.Job) Result {
	return Result{
		Success:     job.Status == domain.JobStatusCompleted || job.Status == domain.JobStatusPartial,
		JobID:       job.ID,
		Status:      job.Status,
		ImageResult: job.ImageResult,
		MeshResult:  job.MeshResult,
		ImageURL:    job.ImageURL,
		MeshURL:     job.MeshURL,
		Errors:      append([]string{}, job.Errors...),
		Message:     SummaryMessage(job),
	}
}

// SummaryMessage describes the job's outcome in one sentence.
func SummaryMessage(job *domain.Job) string {
	switch job.Status {
	case domain.JobStatusCompleted:
		return "Generation succeeded"
	case domain.JobStatusPartial:
		return "Generation partially completed"
	case domain.JobStatusFailed:
		for _, e := range job.Errors {
			if e == CancelledMessage {
				return "Generation cancelled"
			}
		}
		return "Generation failed"
	default:
		return "Generation in progress"
	}
}

// DeriveStatus maps the number of enabled and successful sub-jobs to a
// terminal job status.
func DeriveStatus(enabled, succeeded int) domain.JobStatus {
	switch {
	case succeeded <= 0:
		return domain.JobStatusFailed
	case succeeded >= enabled:
		return domain.JobStatusCompleted
	default:
		return domain.JobStatusPartial
	}
}

// ErrorMessage formats a sub-job failure for the job's error list.
func ErrorMessage(family domain.Family, err error) string {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return fmt.Sprintf("%s generation timed out after %d attempts", family.Title(), timeout.Attempts)
	}
	return fmt.Sprintf("%s generation failed: %v", family.Title(), err)
}

// ProgressFromJob synthesises a progress view for a job whose live record
// is gone.
func ProgressFromJob(job *domain.Job) domain.GenerationProgress {
	p := domain.GenerationProgress{
		JobID:     job.ID,
		Stage:     domain.StageInitializing,
		Message:   SummaryMessage(job),
		Errors:    append([]string{}, job.Errors...),
		UpdatedAt: job.UpdatedAt,
	}
	if job.ImageResult != nil {
		p.ImageProgress = 100
	}
	if job.MeshResult != nil {
		p.MeshProgress = 100
	}
	switch job.Status {
	case domain.JobStatusCompleted, domain.JobStatusPartial:
		p.Stage = domain.StageCompleted
		p.OverallProgress = 100
	case domain.JobStatusFailed:
		p.Stage = domain.StageFailed
	}
	return p
}
