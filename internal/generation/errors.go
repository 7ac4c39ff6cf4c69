package generation

import (
	"fmt"

	"skyforge/internal/domain"
)

// TimeoutError is returned when a poller exhausts its attempt ceiling.
type TimeoutError struct {
	Family     domain.Family
	Attempts   int
	LastStatus string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s generation timed out after %d attempts (last status %q)", e.Family, e.Attempts, e.LastStatus)
}

// PermanentError aborts a sub-job without further polling.
type PermanentError struct {
	Family domain.Family
	Err    error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// ProviderError is a terminal failure reported by the provider itself.
type ProviderError struct {
	Family  domain.Family
	Status  string
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error { return domain.ErrProviderFailure }
