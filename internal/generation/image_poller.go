package generation

import (
	"context"
	"errors"
	"fmt"

	"skyforge/internal/domain"
	"skyforge/internal/infra"
)

// ImagePoller drives one skybox generation to a terminal state.
type ImagePoller struct {
	source ImageProvider
	policy Policy
	wait   WaitFunc
	logger infra.Logger
}

func NewImagePoller(source ImageProvider, policy Policy, wait WaitFunc, logger *infra.Logger) *ImagePoller {
	if wait == nil {
		wait = SleepContext
	}
	l := infra.NopLogger()
	if logger != nil {
		l = *logger
	}
	return &ImagePoller{source: source, policy: policy, wait: wait, logger: l}
}

// Poll queries the provider until the generation completes with an asset,
// fails, or the attempt ceiling is reached. Status requests are detached from
// ctx so an in-flight request finishes; cancellation is observed at the next
// wait.
func (p *ImagePoller) Poll(ctx context.Context, generationID string, spec ImageSpec, report ProgressFunc) (*domain.ImageResult, error) {
	pol := p.policy
	log := p.logger.With().Str("family", string(domain.FamilyImage)).Str("provider_id", generationID).Logger()
	interval := pol.BaseInterval
	progress := 0
	lastStatus := ""
	missingAsset := 0

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
		gen, err := p.source.Status(context.WithoutCancel(ctx), generationID)
		if err != nil {
			if errors.Is(err, domain.ErrProviderTaskNotFound) {
				log.Warn().Err(err).Int("attempt", attempt).Msg("poller: task unknown or expired")
				return nil, &PermanentError{Family: domain.FamilyImage, Err: err}
			}
			interval = scale(interval, pol.ErrorGrowth, pol.MaxInterval)
			log.Warn().Err(err).Int("attempt", attempt).Dur("interval", interval).Msg("poller: status request failed")
		} else {
			lastStatus = gen.Status
			switch gen.Status {
			case "pending":
				publish(10)
				interval = pol.BaseInterval
			case "dispatched", "processing":
				publish(30 + 50*attempt/pol.MaxAttempts)
				interval = clampDuration(interval, pol.ActiveMinInterval, pol.ActiveMaxInterval)
			case "completed", "complete":
				if gen.FileURL != nil {
					publish(100)
					res := MapImageResult(gen, spec)
					log.Info().Int("attempt", attempt).Msg("poller: generation completed")
					return &res, nil
				}
				missingAsset++
				if pol.MaxAssetWaitPolls > 0 && missingAsset >= pol.MaxAssetWaitPolls {
					return nil, &ProviderError{
						Family:  domain.FamilyImage,
						Status:  gen.Status,
						Message: fmt.Sprintf("generation reported %s without an asset url after %d polls", gen.Status, missingAsset),
					}
				}
				publish(progress)
				interval = scale(interval, pol.MissingAssetGrowth, pol.MissingAssetMaxInterval)
			case "failed", "error", "abort":
				msg := deref(gen.ErrorMessage)
				if msg == "" {
					msg = "generation " + gen.Status
				}
				log.Warn().Str("status", gen.Status).Str("reason", msg).Msg("poller: generation failed")
				return nil, &ProviderError{Family: domain.FamilyImage, Status: gen.Status, Message: msg}
			default:
				publish(min(90, attempt*90/pol.MaxAttempts))
			}
			interval = scale(interval, pol.Growth, pol.MaxInterval)
			log.Debug().Int("attempt", attempt).Str("status", gen.Status).Dur("interval", interval).Msg("poller: waiting")
		}

		if attempt == pol.MaxAttempts {
			break
		}
		if err := p.wait(ctx, interval); err != nil {
			return nil, err
		}
	}

	log.Warn().Int("attempt", pol.MaxAttempts).Str("status", lastStatus).Msg("poller: attempt ceiling reached")
	return nil, &TimeoutError{Family: domain.FamilyImage, Attempts: pol.MaxAttempts, LastStatus: lastStatus}
}
