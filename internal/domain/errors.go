package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRunInProgress rejects a second concurrent run for the same requester.
	ErrRunInProgress = errors.New("generation already in progress")
	// ErrJobFinalized is returned when updating a job that left pending.
	ErrJobFinalized   = errors.New("job already finalized")
	ErrJobNotFinished = errors.New("job still pending")
	// ErrProviderTaskNotFound marks an unknown or expired provider tracking id.
	ErrProviderTaskNotFound = errors.New("provider task not found or expired")
	ErrProviderFailure      = errors.New("provider failure")
)
