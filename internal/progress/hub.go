package progress

import (
	"context"
	"sync"
	"time"

	"skyforge/internal/domain"
	"skyforge/internal/infra"
)

// Sink mirrors progress updates outside the process.
type Sink interface {
	Publish(ctx context.Context, p domain.GenerationProgress) error
	Clear(ctx context.Context, jobID string) error
}

// Hub keeps the latest progress per job and fans updates out to subscribers.
//
// Writers only move a job forward: stages never regress and per-family
// progress never decreases. Subscribers that do not drain their channel
// miss updates rather than block writers.
type Hub struct {
	mu        sync.Mutex
	states    map[string]*jobState
	subs      map[string]map[chan domain.GenerationProgress]struct{}
	orders    map[string]*sinkOrder
	sinks     []Sink
	retention time.Duration
	now       func() time.Time
	logger    infra.Logger
}

type jobState struct {
	view       domain.GenerationProgress
	families   []domain.Family
	perFamily  map[domain.Family]int
	finishedAt time.Time
}

// sinkOrder serializes sink writes of one job. seq is assigned under Hub.mu;
// a write older than the last one delivered is skipped.
type sinkOrder struct {
	mu      sync.Mutex
	seq     uint64
	written uint64
	cleared bool
}

// Option customises a Hub.
type Option func(*Hub)

// WithSink adds a mirror for every update.
func WithSink(s Sink) Option {
	return func(h *Hub) {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
}

// WithRetention keeps terminal snapshots readable for d.
func WithRetention(d time.Duration) Option {
	return func(h *Hub) { h.retention = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func NewHub(logger *infra.Logger, opts ...Option) *Hub {
	l := infra.NopLogger()
	if logger != nil {
		l = *logger
	}
	h := &Hub{
		states:    make(map[string]*jobState),
		subs:      make(map[string]map[chan domain.GenerationProgress]struct{}),
		orders:    make(map[string]*sinkOrder),
		retention: 10 * time.Minute,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    l,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start initialises a job at the initializing stage, replacing any previous record.
func (h *Hub) Start(jobID string, families []domain.Family) {
	h.update(jobID, func(s *jobState, created bool) bool {
		*s = jobState{
			families:  append([]domain.Family(nil), families...),
			perFamily: make(map[domain.Family]int, len(families)),
			view: domain.GenerationProgress{
				JobID:   jobID,
				Stage:   domain.StageInitializing,
				Message: "Starting generation",
				Errors:  []string{},
			},
		}
		return true
	}, true)
}

// SetStage advances the stage. Attempts to move backwards are ignored.
func (h *Hub) SetStage(jobID string, stage domain.Stage, message string) {
	h.update(jobID, func(s *jobState, _ bool) bool {
		if stage.Rank() < s.view.Stage.Rank() || s.view.Stage.IsTerminal() {
			return false
		}
		s.view.Stage = stage
		if message != "" {
			s.view.Message = message
		}
		return true
	}, false)
}

// SetFamilyProgress records a family's percentage; lower values are ignored.
func (h *Hub) SetFamilyProgress(jobID string, family domain.Family, percent int) {
	percent = max(0, min(100, percent))
	h.update(jobID, func(s *jobState, _ bool) bool {
		if s.view.Stage.IsTerminal() || percent <= s.perFamily[family] {
			return false
		}
		s.perFamily[family] = percent
		switch family {
		case domain.FamilyImage:
			s.view.ImageProgress = percent
		case domain.FamilyMesh:
			s.view.MeshProgress = percent
		}
		if stage := familyStage(family); s.view.Stage.Rank() < stage.Rank() {
			s.view.Stage = stage
		}
		s.view.OverallProgress = overall(s)
		return true
	}, false)
}

// AddError appends to the job's error list.
func (h *Hub) AddError(jobID, message string) {
	h.update(jobID, func(s *jobState, _ bool) bool {
		s.view.Errors = append(s.view.Errors, message)
		return true
	}, false)
}

// Finish moves the job to a terminal stage.
func (h *Hub) Finish(jobID string, stage domain.Stage, message string) {
	h.update(jobID, func(s *jobState, _ bool) bool {
		if s.view.Stage.IsTerminal() {
			return false
		}
		s.view.Stage = stage
		s.view.Message = message
		if stage == domain.StageCompleted {
			s.view.OverallProgress = 100
		}
		s.finishedAt = h.now()
		return true
	}, false)
}

// Discard drops the job's record and closes its subscriber channels.
func (h *Hub) Discard(jobID string) {
	h.mu.Lock()
	delete(h.states, jobID)
	subs := h.subs[jobID]
	delete(h.subs, jobID)
	order := h.orders[jobID]
	delete(h.orders, jobID)
	h.mu.Unlock()

	for ch := range subs {
		close(ch)
	}
	if order != nil {
		order.mu.Lock()
		defer order.mu.Unlock()
		order.cleared = true
	}
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := sink.Clear(ctx, jobID); err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress: sink clear failed")
		}
		cancel()
	}
}

// Snapshot returns a copy of the job's latest progress.
func (h *Hub) Snapshot(jobID string) (domain.GenerationProgress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictLocked()
	s, ok := h.states[jobID]
	if !ok {
		return domain.GenerationProgress{}, false
	}
	return copyView(s.view), true
}

// Subscribe returns a channel of updates for jobID, primed with the current
// snapshot when one exists. The cancel func must be called when done.
func (h *Hub) Subscribe(jobID string) (<-chan domain.GenerationProgress, func()) {
	ch := make(chan domain.GenerationProgress, 16)
	h.mu.Lock()
	subs, ok := h.subs[jobID]
	if !ok {
		subs = make(map[chan domain.GenerationProgress]struct{})
		h.subs[jobID] = subs
	}
	subs[ch] = struct{}{}
	if s, ok := h.states[jobID]; ok {
		ch <- copyView(s.view)
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[jobID]; ok {
				if _, ok := subs[ch]; ok {
					delete(subs, ch)
					close(ch)
				}
				if len(subs) == 0 {
					delete(h.subs, jobID)
				}
			}
		})
	}
}

// Run evicts expired terminal snapshots until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			h.evictLocked()
			h.mu.Unlock()
		}
	}
}

func (h *Hub) update(jobID string, mutate func(s *jobState, created bool) bool, create bool) {
	h.mu.Lock()
	s, ok := h.states[jobID]
	if !ok {
		if !create {
			h.mu.Unlock()
			return
		}
		s = &jobState{}
		h.states[jobID] = s
	}
	if !mutate(s, !ok) {
		h.mu.Unlock()
		return
	}
	s.view.UpdatedAt = h.now()
	view := copyView(s.view)
	for ch := range h.subs[jobID] {
		select {
		case ch <- copyView(view):
		default:
		}
	}
	if len(h.sinks) == 0 {
		h.mu.Unlock()
		return
	}
	order, ok := h.orders[jobID]
	if !ok {
		order = &sinkOrder{}
		h.orders[jobID] = order
	}
	order.seq++
	seq := order.seq
	h.mu.Unlock()

	h.publish(order, seq, view)
}

// publish delivers view to the sinks unless a newer view of the same job
// already went out.
func (h *Hub) publish(order *sinkOrder, seq uint64, view domain.GenerationProgress) {
	order.mu.Lock()
	defer order.mu.Unlock()
	if order.cleared || seq <= order.written {
		return
	}
	order.written = seq
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := sink.Publish(ctx, view); err != nil {
			h.logger.Warn().Err(err).Str("job_id", view.JobID).Msg("progress: sink publish failed")
		}
		cancel()
	}
}

func (h *Hub) evictLocked() {
	if h.retention <= 0 {
		return
	}
	cutoff := h.now().Add(-h.retention)
	for id, s := range h.states {
		if !s.finishedAt.IsZero() && s.finishedAt.Before(cutoff) {
			delete(h.states, id)
			delete(h.orders, id)
		}
	}
}

func familyStage(f domain.Family) domain.Stage {
	if f == domain.FamilyMesh {
		return domain.StageMeshGenerating
	}
	return domain.StageImageGenerating
}

func overall(s *jobState) int {
	if len(s.families) == 0 {
		return 0
	}
	total := 0
	for _, f := range s.families {
		total += s.perFamily[f]
	}
	return total / len(s.families)
}

func copyView(v domain.GenerationProgress) domain.GenerationProgress {
	v.Errors = append([]string{}, v.Errors...)
	return v
}
