package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"skyforge/internal/domain"
	"skyforge/internal/generation"
	"skyforge/internal/infra"
	"skyforge/internal/middleware"
)

// GenerationService is the orchestrator surface the handlers drive.
type GenerationService interface {
	Submit(ctx context.Context, req domain.GenerationRequest) (*domain.Job, error)
	Generate(ctx context.Context, req domain.GenerationRequest) (generation.Result, error)
	SubmitRetry(ctx context.Context, jobID string) (*domain.Job, error)
	Retry(ctx context.Context, jobID string) (generation.Result, error)
	Cancel(ctx context.Context, jobID string) (*domain.Job, error)
	Job(ctx context.Context, jobID string) (*domain.Job, error)
	Progress(ctx context.Context, jobID string) (domain.GenerationProgress, error)
}

// ProgressSubscriber streams live progress of a job.
type ProgressSubscriber interface {
	Subscribe(jobID string) (<-chan domain.GenerationProgress, func())
}

// AssetFetcher backs the download proxy.
type AssetFetcher interface {
	ProxyAllowed(rawURL string) bool
	Open(ctx context.Context, rawURL string) (*http.Response, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type App struct {
	Generations GenerationService
	Progress    ProgressSubscriber
	Assets      AssetFetcher
	Checks      map[string]HealthCheck
	Logger      infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Code: errCode, Message: message})
}

// fail maps a service error onto an HTTP response.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: err.Error(), Fields: verr.Fields})
	case errors.Is(err, domain.ErrInvalidRequest):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
	case errors.Is(err, domain.ErrRunInProgress):
		a.error(w, http.StatusConflict, "run_in_progress", err.Error())
	case errors.Is(err, domain.ErrJobFinalized):
		a.error(w, http.StatusConflict, "job_finalized", err.Error())
	case errors.Is(err, domain.ErrJobNotFinished):
		a.error(w, http.StatusConflict, "job_pending", err.Error())
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nobody reads the response.
	default:
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("handler failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// ownedJob loads a job visible to the current requester. Jobs of other
// requesters are reported as missing.
func (a *App) ownedJob(r *http.Request, jobID string) (*domain.Job, error) {
	userID := a.currentUserID(r)
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	job, err := a.Generations.Job(r.Context(), jobID)
	if err != nil {
		return nil, err
	}
	if job.RequesterID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}
