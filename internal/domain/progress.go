package domain

import "time"

// Stage is the coarse phase of a run as shown to observers.
type Stage string

const (
	StageInitializing    Stage = "initializing"
	StageImageGenerating Stage = "image_generating"
	StageMeshGenerating  Stage = "mesh_generating"
	StageStoring         Stage = "storing"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

// Rank orders stages; writers only ever move a run forward.
func (s Stage) Rank() int {
	switch s {
	case StageInitializing:
		return 0
	case StageImageGenerating:
		return 1
	case StageMeshGenerating:
		return 2
	case StageStoring:
		return 3
	case StageCompleted, StageFailed:
		return 4
	default:
		return -1
	}
}

// IsTerminal reports whether the stage ends the run.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// GenerationProgress is the transient progress view of one job.
type GenerationProgress struct {
	JobID           string    `json:"job_id"`
	Stage           Stage     `json:"stage"`
	ImageProgress   int       `json:"image_progress"`
	MeshProgress    int       `json:"mesh_progress"`
	OverallProgress int       `json:"overall_progress"`
	Message         string    `json:"message"`
	Errors          []string  `json:"errors"`
	UpdatedAt       time.Time `json:"updated_at"`
}
