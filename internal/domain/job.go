package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartial, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Family identifies one of the two generator families of a run.
type Family string

const (
	FamilyImage Family = "image"
	FamilyMesh  Family = "mesh"
)

// Title returns the capitalized family name used in user-facing messages.
func (f Family) Title() string {
	switch f {
	case FamilyImage:
		return "Image"
	case FamilyMesh:
		return "Mesh"
	default:
		return string(f)
	}
}

// JobMetadata records run accounting once the job reaches a terminal status.
type JobMetadata struct {
	ElapsedMS     int64   `json:"elapsed_ms"`
	EstimatedCost float64 `json:"estimated_cost"`
	RetryCount    int     `json:"retry_count"`
	RetryOf       string  `json:"retry_of,omitempty"`
}

// Job is the durable record of one orchestrated generation run.
type Job struct {
	ID          string             `json:"id"`
	Prompt      string             `json:"prompt"`
	RequesterID string             `json:"requester_id"`
	Status      JobStatus          `json:"status"`
	Request     *GenerationRequest `json:"request,omitempty"`
	ImageResult *ImageResult       `json:"image_result,omitempty"`
	MeshResult  *MeshResult        `json:"mesh_result,omitempty"`
	ImageURL    string             `json:"image_url,omitempty"`
	MeshURL     string             `json:"mesh_url,omitempty"`
	Errors      []string           `json:"errors"`
	Metadata    JobMetadata        `json:"metadata"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`

	// LeaseToken marks the run currently owning the job. A pending job with an
	// unexpired lease blocks further runs for the same requester.
	LeaseToken     string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`
}

// NewJob builds a pending job for the given run.
func NewJob(id, prompt, requesterID string, now time.Time) *Job {
	return &Job{
		ID:          id,
		Prompt:      prompt,
		RequesterID: requesterID,
		Status:      JobStatusPending,
		Errors:      []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Leased reports whether the job is pending and its lease has not lapsed.
func (j *Job) Leased(now time.Time) bool {
	if j == nil || j.Status != JobStatusPending || j.LeaseToken == "" {
		return false
	}
	return j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now)
}

// JobPatch carries a partial update. Nil fields are left untouched and
// AppendErrors is appended to the existing error list in order.
type JobPatch struct {
	Status       *JobStatus
	ImageResult  *ImageResult
	MeshResult   *MeshResult
	ImageURL     *string
	MeshURL      *string
	AppendErrors []string
	Metadata     *JobMetadata
	ReleaseLease bool
}

// Apply mutates the job in place. Stores without native partial updates share it.
func (j *Job) Apply(p JobPatch, now time.Time) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.ImageResult != nil {
		j.ImageResult = p.ImageResult
	}
	if p.MeshResult != nil {
		j.MeshResult = p.MeshResult
	}
	if p.ImageURL != nil {
		j.ImageURL = *p.ImageURL
	}
	if p.MeshURL != nil {
		j.MeshURL = *p.MeshURL
	}
	if len(p.AppendErrors) > 0 {
		j.Errors = append(j.Errors, p.AppendErrors...)
	}
	if p.Metadata != nil {
		j.Metadata = *p.Metadata
	}
	if p.ReleaseLease {
		j.LeaseToken = ""
		j.LeaseExpiresAt = nil
	}
	j.UpdatedAt = now
}

// Clone returns a deep copy so callers cannot alias store-owned state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Errors = append([]string{}, j.Errors...)
	if j.Request != nil {
		req := j.Request.Clone()
		out.Request = &req
	}
	if j.ImageResult != nil {
		img := *j.ImageResult
		out.ImageResult = &img
	}
	if j.MeshResult != nil {
		mesh := j.MeshResult.clone()
		out.MeshResult = &mesh
	}
	if j.LeaseExpiresAt != nil {
		exp := *j.LeaseExpiresAt
		out.LeaseExpiresAt = &exp
	}
	return &out
}
