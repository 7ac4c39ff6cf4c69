package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"skyforge/internal/domain"
	"skyforge/internal/generation"
)

const maxRequestBody = 64 << 10

type createGenerationRequest struct {
	Prompt string              `json:"prompt"`
	Image  *domain.ImageConfig `json:"image,omitempty"`
	Mesh   domain.MeshOption   `json:"mesh"`
}

type acceptedResponse struct {
	JobID  string            `json:"job_id"`
	Status domain.JobStatus  `json:"status"`
	Links  map[string]string `json:"links"`
}

type generationResponse struct {
	generation.Result
	Prompt    string                    `json:"prompt"`
	Request   *domain.GenerationRequest `json:"request,omitempty"`
	Metadata  domain.JobMetadata        `json:"metadata"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

func newGenerationResponse(job *domain.Job) generationResponse {
	return generationResponse{
		Result:    generation.ResultFromJob(job),
		Prompt:    job.Prompt,
		Request:   job.Request,
		Metadata:  job.Metadata,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

func accepted(job *domain.Job) acceptedResponse {
	base := "/v1/generations/" + job.ID
	return acceptedResponse{
		JobID:  job.ID,
		Status: job.Status,
		Links: map[string]string{
			"self":     base,
			"progress": base + "/progress",
			"events":   base + "/events",
			"cancel":   base + "/cancel",
			"bundle":   base + "/bundle",
		},
	}
}

func wantsWait(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

// CreateGeneration starts a run. With ?wait=true the response carries the
// final result; otherwise it returns 202 with the job id.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var body createGenerationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
		case errors.Is(err, io.EOF):
			a.error(w, http.StatusBadRequest, "bad_request", "request body required")
		default:
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		}
		return
	}
	req := domain.GenerationRequest{
		Prompt:      body.Prompt,
		RequesterID: userID,
		Image:       body.Image,
		Mesh:        body.Mesh,
	}

	if wantsWait(r) {
		res, err := a.Generations.Generate(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.json(w, http.StatusOK, res)
		return
	}
	job, err := a.Generations.Submit(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, accepted(job))
}

func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	job, err := a.ownedJob(r, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newGenerationResponse(job))
}

func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	job, err := a.ownedJob(r, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	cancelled, err := a.Generations.Cancel(r.Context(), job.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newGenerationResponse(cancelled))
}

// RetryGeneration starts a new job from a finished one.
func (a *App) RetryGeneration(w http.ResponseWriter, r *http.Request) {
	job, err := a.ownedJob(r, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if wantsWait(r) {
		res, err := a.Generations.Retry(r.Context(), job.ID)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.json(w, http.StatusOK, res)
		return
	}
	next, err := a.Generations.SubmitRetry(r.Context(), job.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, accepted(next))
}

func (a *App) GetProgress(w http.ResponseWriter, r *http.Request) {
	job, err := a.ownedJob(r, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	p, err := a.Generations.Progress(r.Context(), job.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, p)
}
