package generation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"skyforge/internal/domain"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		enabled, succeeded int
		want               domain.JobStatus
	}{
		{2, 2, domain.JobStatusCompleted},
		{1, 1, domain.JobStatusCompleted},
		{2, 1, domain.JobStatusPartial},
		{2, 0, domain.JobStatusFailed},
		{1, 0, domain.JobStatusFailed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveStatus(tc.enabled, tc.succeeded), "%d/%d", tc.succeeded, tc.enabled)
	}
}

func TestErrorMessage(t *testing.T) {
	timeout := &TimeoutError{Family: domain.FamilyMesh, Attempts: 120, LastStatus: "IN_PROGRESS"}
	assert.Equal(t, "Mesh generation timed out after 120 attempts", ErrorMessage(domain.FamilyMesh, timeout))
	assert.Equal(t, "Image generation failed: boom", ErrorMessage(domain.FamilyImage, errors.New("boom")))
}

func TestSummaryMessage(t *testing.T) {
	job := domain.NewJob("j", "p", "u", time.Now())
	assert.Equal(t, "Generation in progress", SummaryMessage(job))

	job.Status = domain.JobStatusFailed
	job.Errors = []string{"Image generation failed: x"}
	assert.Equal(t, "Generation failed", SummaryMessage(job))

	job.Errors = append(job.Errors, CancelledMessage)
	assert.Equal(t, "Generation cancelled", SummaryMessage(job))
}

func TestProgressFromJob(t *testing.T) {
	job := domain.NewJob("j", "p", "u", time.Now())
	job.Status = domain.JobStatusPartial
	job.ImageResult = &domain.ImageResult{ID: "g"}
	job.Errors = []string{"Mesh generation failed: x"}

	p := ProgressFromJob(job)
	assert.Equal(t, domain.StageCompleted, p.Stage)
	assert.Equal(t, 100, p.OverallProgress)
	assert.Equal(t, 100, p.ImageProgress)
	assert.Zero(t, p.MeshProgress)
	assert.Equal(t, job.Errors, p.Errors)
}

func TestRebuildRequestPrefersResultConfig(t *testing.T) {
	job := domain.NewJob("j", "a bridge", "u", time.Now())
	job.Request = &domain.GenerationRequest{
		Prompt:      "stale",
		RequesterID: "someone-else",
		Image:       &domain.ImageConfig{StyleID: 1},
	}
	job.ImageResult = &domain.ImageResult{StyleID: 4, NegativePrompt: "fog"}
	job.MeshResult = &domain.MeshResult{ArtStyle: "sculpture", Format: "fbx", TargetPolycount: 500, Quality: "low"}

	req := RebuildRequest(job)
	assert.Equal(t, "a bridge", req.Prompt)
	assert.Equal(t, "u", req.RequesterID)
	assert.Equal(t, &domain.ImageConfig{StyleID: 4, NegativePrompt: "fog"}, req.Image)
	if assert.NotNil(t, req.Mesh.Config) {
		assert.Equal(t, "fbx", req.Mesh.Config.OutputFormat)
		assert.Equal(t, 500, req.Mesh.Config.TargetPolycount)
	}
	assert.Equal(t, 1, job.Request.Image.StyleID)
}
