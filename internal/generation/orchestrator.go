package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"skyforge/internal/domain"
	"skyforge/internal/events"
	"skyforge/internal/infra"
	"skyforge/internal/providers/meshy"
	"skyforge/internal/providers/skybox"
)

var errSubJobAborted = errors.New("sub-job aborted unexpectedly")

// ProgressTracker is the progress side channel written during a run.
type ProgressTracker interface {
	Start(jobID string, families []domain.Family)
	SetStage(jobID string, stage domain.Stage, message string)
	SetFamilyProgress(jobID string, family domain.Family, percent int)
	AddError(jobID, message string)
	Finish(jobID string, stage domain.Stage, message string)
	Discard(jobID string)
	Snapshot(jobID string) (domain.GenerationProgress, bool)
}

// ProgressLoader reads progress published by other instances.
type ProgressLoader interface {
	Load(ctx context.Context, jobID string) (domain.GenerationProgress, bool, error)
}

// Options wires an Orchestrator. Image and Mesh may be nil when the
// corresponding provider is not configured.
type Options struct {
	Jobs      domain.JobRepository
	Image     ImageProvider
	Mesh      MeshProvider
	Policies  Policies
	Persister *Persister
	Progress  ProgressTracker
	Remote    ProgressLoader
	Notifier  events.Notifier
	Pool      *infra.Pool
	Logger    *infra.Logger
	LeaseTTL  time.Duration
	// LeaseRenewEvery is how often a run extends its lease. Defaults to a
	// third of LeaseTTL, capped at 30s.
	LeaseRenewEvery time.Duration

	Now    func() time.Time
	NewID  func() string
	Wait   WaitFunc
	Jitter JitterFunc
}

// Orchestrator runs the image and mesh sub-jobs of a generation request and
// records the outcome.
type Orchestrator struct {
	jobs        domain.JobRepository
	image       ImageProvider
	mesh        MeshProvider
	imagePoller *ImagePoller
	meshPoller  *MeshPoller
	persister   *Persister
	progress    ProgressTracker
	remote      ProgressLoader
	notifier    events.Notifier
	pool        *infra.Pool
	cancels     *Controller
	logger      infra.Logger
	leaseTTL    time.Duration
	renewEvery  time.Duration
	now         func() time.Time
	newID       func() string
}

func NewOrchestrator(opts Options) *Orchestrator {
	l := infra.NopLogger()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	o := &Orchestrator{
		jobs:       opts.Jobs,
		image:      opts.Image,
		mesh:       opts.Mesh,
		persister:  opts.Persister,
		progress:   opts.Progress,
		remote:     opts.Remote,
		notifier:   opts.Notifier,
		pool:       opts.Pool,
		cancels:    NewController(),
		logger:     l,
		leaseTTL:   opts.LeaseTTL,
		renewEvery: opts.LeaseRenewEvery,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if o.notifier == nil {
		o.notifier = events.Nop{}
	}
	if o.pool == nil {
		o.pool = infra.NewPool("generation", &l)
	}
	if o.leaseTTL <= 0 {
		o.leaseTTL = 5 * time.Minute
	}
	if o.renewEvery <= 0 || o.renewEvery >= o.leaseTTL {
		o.renewEvery = min(o.leaseTTL/3, 30*time.Second)
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if opts.Image != nil {
		o.imagePoller = NewImagePoller(opts.Image, opts.Policies.Image, opts.Wait, &l)
	}
	if opts.Mesh != nil {
		o.meshPoller = NewMeshPoller(opts.Mesh, opts.Policies.Mesh, opts.Wait, opts.Jitter, &l)
	}
	return o
}

// Submit validates the request, records a pending job and runs it in the
// background. Validation failures have no side effects.
func (o *Orchestrator) Submit(ctx context.Context, req domain.GenerationRequest) (*domain.Job, error) {
	job, _, err := o.submit(ctx, req, domain.JobMetadata{})
	return job, err
}

// Generate runs a request to completion. If ctx ends first the run is
// cancelled and ctx's error is returned with the cancelled job.
func (o *Orchestrator) Generate(ctx context.Context, req domain.GenerationRequest) (Result, error) {
	job, done, err := o.submit(ctx, req, domain.JobMetadata{})
	if err != nil {
		return Result{}, err
	}
	return o.await(ctx, job.ID, done)
}

// SubmitRetry starts a new job rebuilt from a finished one.
func (o *Orchestrator) SubmitRetry(ctx context.Context, jobID string) (*domain.Job, error) {
	req, meta, err := o.retryRequest(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job, _, err := o.submit(ctx, req, meta)
	return job, err
}

// Retry is SubmitRetry followed by waiting for the new job.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (Result, error) {
	req, meta, err := o.retryRequest(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	job, done, err := o.submit(ctx, req, meta)
	if err != nil {
		return Result{}, err
	}
	return o.await(ctx, job.ID, done)
}

// Cancel fails a pending job. A poll request already in flight completes
// before its run observes the cancellation; its outcome is discarded. A run
// owned by another instance stops at its next lease renewal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, domain.ErrJobFinalized
	}
	o.cancels.Cancel(jobID)

	failed := domain.JobStatusFailed
	meta := job.Metadata
	meta.ElapsedMS = o.now().Sub(job.CreatedAt).Milliseconds()
	updated, err := o.jobs.Update(ctx, jobID, domain.JobPatch{
		Status:       &failed,
		AppendErrors: []string{CancelledMessage},
		Metadata:     &meta,
		ReleaseLease: true,
	})
	if err != nil {
		return nil, err
	}
	o.progress.Discard(jobID)
	o.logger.Info().Str("job_id", jobID).Str("requester", job.RequesterID).Msg("generation: cancelled")
	o.notify(ctx, updated)
	return updated, nil
}

// Job returns the stored job.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	return o.jobs.Get(ctx, jobID)
}

// Progress returns the live progress of a job, or one derived from the
// stored job once the live record is gone.
func (o *Orchestrator) Progress(ctx context.Context, jobID string) (domain.GenerationProgress, error) {
	if p, ok := o.progress.Snapshot(jobID); ok {
		return p, nil
	}
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.GenerationProgress{}, err
	}
	if o.remote != nil && job.Status == domain.JobStatusPending {
		p, ok, err := o.remote.Load(ctx, jobID)
		if err != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("generation: remote progress unavailable")
		} else if ok {
			return p, nil
		}
	}
	return ProgressFromJob(job), nil
}

// Running reports whether this instance is driving the job.
func (o *Orchestrator) Running(jobID string) bool {
	return o.cancels.Active(jobID)
}

func (o *Orchestrator) submit(ctx context.Context, req domain.GenerationRequest, meta domain.JobMetadata) (*domain.Job, <-chan struct{}, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if req.ImageEnabled() && o.image == nil {
		return nil, nil, fmt.Errorf("%w: image generation is not configured", domain.ErrInvalidRequest)
	}
	if req.MeshEnabled() && o.mesh == nil {
		return nil, nil, fmt.Errorf("%w: mesh generation is not configured", domain.ErrInvalidRequest)
	}

	now := o.now()
	job := domain.NewJob(o.newID(), req.Prompt, req.RequesterID, now)
	expires := now.Add(o.leaseTTL)
	job.LeaseToken = uuid.NewString()
	job.LeaseExpiresAt = &expires
	job.Request = &req
	job.Metadata = meta
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, nil, err
	}

	var families []domain.Family
	if req.ImageEnabled() {
		families = append(families, domain.FamilyImage)
	}
	if req.MeshEnabled() {
		families = append(families, domain.FamilyMesh)
	}
	o.progress.Start(job.ID, families)

	runCtx, finish := o.cancels.Begin(context.WithoutCancel(ctx), job.ID)
	done := o.cancels.Done(job.ID)
	o.logger.Info().
		Str("job_id", job.ID).
		Str("requester", job.RequesterID).
		Bool("image", req.ImageEnabled()).
		Bool("mesh", req.MeshEnabled()).
		Int("retry_count", meta.RetryCount).
		Msg("generation: started")

	started := job.Clone()
	o.pool.Go(runCtx, func() {
		defer finish()
		o.run(runCtx, started, req)
	})
	return job, done, nil
}

func (o *Orchestrator) await(ctx context.Context, jobID string, done <-chan struct{}) (Result, error) {
	select {
	case <-done:
	case <-ctx.Done():
		bg := context.WithoutCancel(ctx)
		if _, err := o.Cancel(bg, jobID); err != nil && !errors.Is(err, domain.ErrJobFinalized) {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("generation: cancel on caller exit failed")
		}
		job, err := o.jobs.Get(bg, jobID)
		if err != nil {
			return Result{}, ctx.Err()
		}
		return ResultFromJob(job), ctx.Err()
	}
	job, err := o.jobs.Get(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return Result{}, err
	}
	return ResultFromJob(job), nil
}

type subJobOutcome struct {
	image *domain.ImageResult
	mesh  *domain.MeshResult
	err   error
}

func (o *Orchestrator) run(ctx context.Context, job *domain.Job, req domain.GenerationRequest) {
	log := o.logger.With().Str("job_id", job.ID).Logger()

	stopLease := o.keepLease(ctx, job, log)
	defer stopLease()

	// Settle-all join: each outcome starts as an error so a sub-job that
	// panics still counts as failed.
	var (
		wg                 sync.WaitGroup
		imageOut, meshOut  subJobOutcome
		enabled, succeeded int
	)
	if req.ImageEnabled() {
		enabled++
		imageOut.err = errSubJobAborted
		wg.Add(1)
		o.pool.Go(ctx, func() {
			defer wg.Done()
			imageOut.image, imageOut.err = o.launchImage(ctx, job.ID, req)
		})
	}
	if req.MeshEnabled() {
		enabled++
		meshOut.err = errSubJobAborted
		wg.Add(1)
		o.pool.Go(ctx, func() {
			defer wg.Done()
			meshOut.mesh, meshOut.err = o.launchMesh(ctx, job.ID, req)
		})
	}
	wg.Wait()

	if ctx.Err() != nil {
		log.Info().Msg("generation: run observed cancellation")
		o.progress.Discard(job.ID)
		return
	}

	var errs []string
	collect := func(family domain.Family, err error) {
		msg := ErrorMessage(family, err)
		errs = append(errs, msg)
		o.progress.AddError(job.ID, msg)
		log.Warn().Err(err).Str("family", string(family)).Msg("generation: sub-job failed")
	}
	if req.ImageEnabled() && imageOut.err != nil {
		collect(domain.FamilyImage, imageOut.err)
	}
	if req.MeshEnabled() && meshOut.err != nil {
		collect(domain.FamilyMesh, meshOut.err)
	}

	bg := context.WithoutCancel(ctx)
	patch := domain.JobPatch{AppendErrors: errs, ReleaseLease: true}
	meta := job.Metadata
	meta.EstimatedCost = 0
	if imageOut.image != nil || meshOut.mesh != nil {
		o.progress.SetStage(job.ID, domain.StageStoring, "Storing assets")
	}
	if res := imageOut.image; res != nil && imageOut.err == nil {
		succeeded++
		url := o.persister.Persist(bg, res.FileURL, job.ID, job.RequesterID, job.CreatedAt, domain.FamilyImage, res.Format)
		patch.ImageResult = res
		patch.ImageURL = &url
		meta.EstimatedCost += res.Metadata.EstimatedCost
	}
	if res := meshOut.mesh; res != nil && meshOut.err == nil {
		succeeded++
		url := o.persister.Persist(bg, res.ModelURL, job.ID, job.RequesterID, job.CreatedAt, domain.FamilyMesh, res.Format)
		patch.MeshResult = res
		patch.MeshURL = &url
		meta.EstimatedCost += res.Metadata.EstimatedCost
	}

	status := DeriveStatus(enabled, succeeded)
	meta.ElapsedMS = o.now().Sub(job.CreatedAt).Milliseconds()
	patch.Status = &status
	patch.Metadata = &meta

	stopLease()
	final, err := o.jobs.Update(bg, job.ID, patch)
	if err != nil {
		if errors.Is(err, domain.ErrJobFinalized) {
			log.Info().Msg("generation: job finalized elsewhere, dropping outcome")
			return
		}
		log.Error().Err(err).Msg("generation: failed to record outcome")
		o.progress.Finish(job.ID, domain.StageFailed, "Failed to record generation outcome")
		return
	}

	stage := domain.StageCompleted
	if status == domain.JobStatusFailed {
		stage = domain.StageFailed
	}
	o.progress.Finish(job.ID, stage, SummaryMessage(final))
	log.Info().
		Str("status", string(status)).
		Int64("elapsed_ms", meta.ElapsedMS).
		Float64("estimated_cost", meta.EstimatedCost).
		Msg("generation: finished")
	o.notify(bg, final)
}

// keepLease renews the run's lease until the returned stop func is called.
// When the job was finalized elsewhere, such as a cancel handled by another
// instance or the reaper, the local run is cancelled.
func (o *Orchestrator) keepLease(ctx context.Context, job *domain.Job, log infra.Logger) func() {
	leaseCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.pool.Go(leaseCtx, func() {
		defer close(done)
		ticker := time.NewTicker(o.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
			}
			until := o.now().Add(o.leaseTTL)
			err := o.jobs.RenewLease(context.WithoutCancel(leaseCtx), job.ID, job.LeaseToken, until)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrJobFinalized), errors.Is(err, domain.ErrNotFound):
				log.Info().Err(err).Msg("generation: lease lost, stopping run")
				o.cancels.Cancel(job.ID)
				return
			default:
				log.Warn().Err(err).Msg("generation: lease renewal failed")
			}
		}
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (o *Orchestrator) launchImage(ctx context.Context, jobID string, req domain.GenerationRequest) (*domain.ImageResult, error) {
	o.progress.SetStage(jobID, domain.StageImageGenerating, "Generating skybox")
	spec := ImageSpec{Prompt: req.Prompt, ImageConfig: *req.Image}
	generationID, err := o.image.Submit(context.WithoutCancel(ctx), skybox.SubmitRequest{
		Prompt:         spec.Prompt,
		StyleID:        spec.StyleID,
		NegativePrompt: spec.NegativePrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	o.logger.Debug().Str("job_id", jobID).Str("family", string(domain.FamilyImage)).Str("provider_id", generationID).Msg("generation: sub-job submitted")
	return o.imagePoller.Poll(ctx, generationID, spec, func(pct int) {
		o.progress.SetFamilyProgress(jobID, domain.FamilyImage, pct)
	})
}

func (o *Orchestrator) launchMesh(ctx context.Context, jobID string, req domain.GenerationRequest) (*domain.MeshResult, error) {
	o.progress.SetStage(jobID, domain.StageMeshGenerating, "Generating 3D model")
	cfg := domain.MeshConfig{}.WithDefaults()
	if req.Mesh.Config != nil {
		cfg = req.Mesh.Config.WithDefaults()
	}
	spec := MeshSpec{Prompt: req.Prompt, Config: cfg}
	taskID, err := o.mesh.Submit(context.WithoutCancel(ctx), meshy.SubmitRequest{
		Prompt:          spec.Prompt,
		ArtStyle:        cfg.ArtStyle,
		AIModel:         cfg.AIModel,
		Topology:        cfg.Topology,
		TargetPolycount: cfg.TargetPolycount,
	})
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	o.logger.Debug().Str("job_id", jobID).Str("family", string(domain.FamilyMesh)).Str("provider_id", taskID).Msg("generation: sub-job submitted")
	return o.meshPoller.Poll(ctx, taskID, spec, func(pct int) {
		o.progress.SetFamilyProgress(jobID, domain.FamilyMesh, pct)
	})
}

func (o *Orchestrator) retryRequest(ctx context.Context, jobID string) (domain.GenerationRequest, domain.JobMetadata, error) {
	old, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.GenerationRequest{}, domain.JobMetadata{}, err
	}
	if !old.Status.IsTerminal() {
		return domain.GenerationRequest{}, domain.JobMetadata{}, domain.ErrJobNotFinished
	}
	meta := domain.JobMetadata{RetryCount: old.Metadata.RetryCount + 1, RetryOf: old.ID}
	return RebuildRequest(old), meta, nil
}

// RebuildRequest reconstructs the request of a finished job. Configuration
// recorded on a result takes precedence over the stored request.
func RebuildRequest(job *domain.Job) domain.GenerationRequest {
	req := domain.GenerationRequest{Prompt: job.Prompt, RequesterID: job.RequesterID}
	if job.Request != nil {
		req = job.Request.Clone()
		req.Prompt = job.Prompt
		req.RequesterID = job.RequesterID
	}
	if img := job.ImageResult; img != nil {
		req.Image = &domain.ImageConfig{StyleID: img.StyleID, NegativePrompt: img.NegativePrompt}
	}
	if mesh := job.MeshResult; mesh != nil {
		req.Mesh = domain.MeshOption{Config: &domain.MeshConfig{
			ArtStyle:        mesh.ArtStyle,
			AIModel:         mesh.AIModel,
			Topology:        mesh.Topology,
			TargetPolycount: mesh.TargetPolycount,
			OutputFormat:    mesh.Format,
			Quality:         mesh.Quality,
		}}
	}
	return req
}

func (o *Orchestrator) notify(ctx context.Context, job *domain.Job) {
	if err := o.notifier.JobFinished(ctx, events.NewJobFinished(job)); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("generation: notify failed")
	}
}
