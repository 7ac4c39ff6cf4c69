package generation

import (
	"context"
	"errors"
	"time"

	"skyforge/internal/domain"
	"skyforge/internal/infra"
)

// MeshPoller drives one text-to-3D task to a terminal state.
type MeshPoller struct {
	source MeshProvider
	policy Policy
	wait   WaitFunc
	jitter JitterFunc
	logger infra.Logger
}

func NewMeshPoller(source MeshProvider, policy Policy, wait WaitFunc, jitter JitterFunc, logger *infra.Logger) *MeshPoller {
	if wait == nil {
		wait = SleepContext
	}
	if jitter == nil {
		jitter = RandomJitter
	}
	l := infra.NopLogger()
	if logger != nil {
		l = *logger
	}
	return &MeshPoller{source: source, policy: policy, wait: wait, jitter: jitter, logger: l}
}

// Poll queries the provider until the task succeeds, fails, or the attempt
// ceiling is reached.
func (p *MeshPoller) Poll(ctx context.Context, taskID string, spec MeshSpec, report ProgressFunc) (*domain.MeshResult, error) {
	pol := p.policy
	log := p.logger.With().Str("family", string(domain.FamilyMesh)).Str("provider_id", taskID).Logger()
	interval := pol.BaseInterval
	progress := 0
	lastStatus := ""

	publish := func(pct int) {
		if pct > progress {
			progress = pct
		}
		if report != nil {
			report(progress)
		}
	}

	for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task, err := p.source.Status(context.WithoutCancel(ctx), taskID)
		transportFailed := false
		if err != nil {
			if errors.Is(err, domain.ErrProviderTaskNotFound) {
				log.Warn().Err(err).Int("attempt", attempt).Msg("poller: task unknown or expired")
				return nil, &PermanentError{Family: domain.FamilyMesh, Err: err}
			}
			transportFailed = true
			log.Warn().Err(err).Int("attempt", attempt).Msg("poller: status request failed")
		} else {
			lastStatus = task.Status
			switch task.Status {
			case "PENDING":
				publish(10)
			case "IN_PROGRESS":
				inner := 0
				if task.Progress != nil {
					inner = *task.Progress
				}
				publish(min(90, 20+inner*7/10))
			case "SUCCEEDED":
				res := MapMeshResult(task, spec)
				if res.ModelURL == "" {
					return nil, &ProviderError{Family: domain.FamilyMesh, Status: task.Status, Message: "generation succeeded without a model url"}
				}
				publish(100)
				log.Info().Int("attempt", attempt).Msg("poller: generation completed")
				return &res, nil
			case "FAILED":
				msg := deref(task.TaskError)
				if msg == "" {
					msg = "generation failed"
				}
				log.Warn().Str("status", task.Status).Str("reason", msg).Msg("poller: generation failed")
				return nil, &ProviderError{Family: domain.FamilyMesh, Status: task.Status, Message: msg}
			case "CANCELED":
				return nil, &ProviderError{Family: domain.FamilyMesh, Status: task.Status, Message: "generation was cancelled"}
			}
		}

		if attempt == pol.MaxAttempts {
			break
		}
		delay := interval + p.jitter(time.Duration(float64(interval)*pol.JitterFraction))
		if transportFailed {
			delay += interval
		}
		interval = scale(interval, pol.Growth, pol.MaxInterval)
		log.Debug().Int("attempt", attempt).Str("status", lastStatus).Dur("interval", delay).Msg("poller: waiting")
		if err := p.wait(ctx, delay); err != nil {
			return nil, err
		}
	}

	log.Warn().Int("attempt", pol.MaxAttempts).Str("status", lastStatus).Msg("poller: attempt ceiling reached")
	return nil, &TimeoutError{Family: domain.FamilyMesh, Attempts: pol.MaxAttempts, LastStatus: lastStatus}
}
